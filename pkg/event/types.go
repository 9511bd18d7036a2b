// Package event はサービスが発行するドメインイベントの型を定義する。
//
// フォロー関係の変化や通知の送信をイベントとしてEvent Storeに追記する。
// イベントの送信はベストエフォートであり、失敗しても元の操作は成功扱いとなる。
package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeUser はユーザーエンティティを表す。
	AggregateTypeUser AggregateType = "User"
	// AggregateTypeNotification は通知エンティティを表す。
	AggregateTypeNotification AggregateType = "Notification"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeUserFollowed はフォロー関係が新規に作成されたことを表す。
	TypeUserFollowed Type = "UserFollowed"
	// TypeUserUnfollowed はフォロー関係が削除されたことを表す。
	TypeUserUnfollowed Type = "UserUnfollowed"
	// TypeNotificationSent は通知が永続化されたことを表す。
	TypeNotificationSent Type = "NotificationSent"
)

// Event はEvent Storeに追記される不変のイベントレコード。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// UserFollowedData はUserFollowedイベントのデータ。
type UserFollowedData struct {
	// FollowerID はフォローしたユーザーのID。
	FollowerID string `json:"follower_id"`
	// FollowingID はフォローされたユーザーのID。
	FollowingID string `json:"following_id"`
}

// UserUnfollowedData はUserUnfollowedイベントのデータ。
type UserUnfollowedData struct {
	// FollowerID はフォローを解除したユーザーのID。
	FollowerID string `json:"follower_id"`
	// FollowingID はフォローを解除されたユーザーのID。
	FollowingID string `json:"following_id"`
}

// NotificationSentData はNotificationSentイベントのデータ。
type NotificationSentData struct {
	// NotificationID は通知のID。
	NotificationID string `json:"notification_id"`
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// URL は通知のリンク先。
	URL string `json:"url"`
}
