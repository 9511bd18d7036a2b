package social

import (
	"context"

	"github.com/nao1215/circle/internal/notification"
	"github.com/nao1215/circle/pkg/event"
	"github.com/nao1215/circle/pkg/httpclient"
)

// eventsPath はEvent Storeのイベント追記API。
const eventsPath = "/api/v1/events"

// eventPublisher はドメインイベントをEvent StoreにPOSTする。
// follow.EventPublisherとnotification.Senderを満たす。
type eventPublisher struct {
	client *httpclient.Client
}

func newEventPublisher(baseURL string) *eventPublisher {
	return &eventPublisher{client: httpclient.New(baseURL)}
}

// FollowCreated はUserFollowedイベントを送る。
func (p *eventPublisher) FollowCreated(ctx context.Context, followerID, followingID string) error {
	return p.append(httpclient.WithUserID(ctx, followerID), event.FollowAggregateID(followerID, followingID), event.AggregateTypeUser,
		event.TypeUserFollowed, event.UserFollowedData{FollowerID: followerID, FollowingID: followingID})
}

// FollowDeleted はUserUnfollowedイベントを送る。
func (p *eventPublisher) FollowDeleted(ctx context.Context, followerID, followingID string) error {
	return p.append(httpclient.WithUserID(ctx, followerID), event.FollowAggregateID(followerID, followingID), event.AggregateTypeUser,
		event.TypeUserUnfollowed, event.UserUnfollowedData{FollowerID: followerID, FollowingID: followingID})
}

// NotificationSent はNotificationSentイベントを送る。
func (p *eventPublisher) NotificationSent(ctx context.Context, n notification.Notification) error {
	return p.append(ctx, "notification-"+n.ID, event.AggregateTypeNotification,
		event.TypeNotificationSent, event.NotificationSentData{NotificationID: n.ID, UserID: n.UserID, URL: n.URL})
}

func (p *eventPublisher) append(ctx context.Context, aggregateID string, aggregateType event.AggregateType, eventType event.Type, data any) error {
	e, err := event.New(aggregateID, aggregateType, eventType, data)
	if err != nil {
		return err
	}
	return p.client.PostJSON(ctx, eventsPath, e, nil)
}
