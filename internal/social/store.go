package social

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/circle/internal/follow"
	"github.com/nao1215/circle/internal/notification"
	socialdb "github.com/nao1215/circle/internal/social/db"
)

// userStore はusersテーブルを使ったユーザー解決器。follow.Resolverを満たす。
type userStore struct {
	queries *socialdb.Queries
	now     func() time.Time
}

func toFollowUser(u socialdb.User) follow.User {
	return follow.User{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName}
}

// ResolveByUsername はユーザー名からユーザーを取得する。
func (s *userStore) ResolveByUsername(ctx context.Context, username string) (follow.User, error) {
	u, err := s.queries.GetUserByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return follow.User{}, follow.ErrNotFound
	}
	if err != nil {
		return follow.User{}, err
	}
	return toFollowUser(u), nil
}

// ResolveByID はIDからユーザーを取得する。
func (s *userStore) ResolveByID(ctx context.Context, id string) (follow.User, error) {
	u, err := s.queries.GetUserByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return follow.User{}, follow.ErrNotFound
	}
	if err != nil {
		return follow.User{}, err
	}
	return toFollowUser(u), nil
}

// RecipientExists はnotification.Recipientsを満たす。
func (s *userStore) RecipientExists(ctx context.Context, id string) (bool, error) {
	_, err := s.ResolveByID(ctx, id)
	if errors.Is(err, follow.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Ensure はユーザー名のユーザーを返す。存在しなければ作成する。
func (s *userStore) Ensure(ctx context.Context, username, displayName string) (follow.User, error) {
	u, err := s.ResolveByUsername(ctx, username)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, follow.ErrNotFound) {
		return follow.User{}, err
	}

	if displayName == "" {
		displayName = username
	}
	created := socialdb.CreateUserParams{
		ID:          uuid.NewString(),
		Username:    username,
		DisplayName: displayName,
		CreatedAt:   s.now(),
	}
	if err := s.queries.CreateUser(ctx, created); err != nil {
		// 同名ユーザーが同時に作成された場合はそちらを使う
		if existing, rerr := s.ResolveByUsername(ctx, username); rerr == nil {
			return existing, nil
		}
		return follow.User{}, fmt.Errorf("ユーザーの作成に失敗: %w", err)
	}
	return follow.User{ID: created.ID, Username: username, DisplayName: displayName}, nil
}

// followStore はfollowsテーブルを使ったfollow.Storeの実装。
type followStore struct {
	queries *socialdb.Queries
}

// Exists はエッジが存在するかを返す。
func (s *followStore) Exists(ctx context.Context, followerID, followingID string) (bool, error) {
	n, err := s.queries.FollowExists(ctx, socialdb.FollowExistsParams{
		FollowerID:  followerID,
		FollowingID: followingID,
	})
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// Create はエッジを作成する。一意制約に当たった場合は作成せずfalseを返す。
func (s *followStore) Create(ctx context.Context, e follow.Edge) (bool, error) {
	rows, err := s.queries.CreateFollow(ctx, socialdb.CreateFollowParams{
		FollowerID:  e.FollowerID,
		FollowingID: e.FollowingID,
		CreatedAt:   e.CreatedAt,
	})
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// Delete はエッジを削除する。削除対象がなければfalseを返す。
func (s *followStore) Delete(ctx context.Context, followerID, followingID string) (bool, error) {
	rows, err := s.queries.DeleteFollow(ctx, socialdb.DeleteFollowParams{
		FollowerID:  followerID,
		FollowingID: followingID,
	})
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ListFollowing はuserIDがフォローしているユーザーを返す。
func (s *followStore) ListFollowing(ctx context.Context, userID string) ([]follow.User, error) {
	rows, err := s.queries.ListFollowing(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toFollowUsers(rows), nil
}

// ListFollowers はuserIDをフォローしているユーザーを返す。
func (s *followStore) ListFollowers(ctx context.Context, userID string) ([]follow.User, error) {
	rows, err := s.queries.ListFollowers(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toFollowUsers(rows), nil
}

// Count はフォロワー数とフォロー数を返す。
func (s *followStore) Count(ctx context.Context, userID string) (follow.Counts, error) {
	followers, err := s.queries.CountFollowers(ctx, userID)
	if err != nil {
		return follow.Counts{}, err
	}
	following, err := s.queries.CountFollowing(ctx, userID)
	if err != nil {
		return follow.Counts{}, err
	}
	return follow.Counts{Followers: followers, Following: following}, nil
}

func toFollowUsers(rows []socialdb.User) []follow.User {
	users := make([]follow.User, 0, len(rows))
	for _, u := range rows {
		users = append(users, toFollowUser(u))
	}
	return users
}

// notificationStore はnotificationsテーブルを使ったnotification.Storeの実装。
type notificationStore struct {
	queries *socialdb.Queries
}

// toNotification はDB行を通知に変換する。
func toNotification(n socialdb.Notification) notification.Notification {
	return notification.Notification{
		ID:        n.ID,
		UserID:    n.UserID,
		Content:   n.Content,
		URL:       n.Url,
		IsRead:    n.IsRead != 0,
		CreatedAt: n.CreatedAt.UTC(),
	}
}

func toNotifications(rows []socialdb.Notification) []notification.Notification {
	list := make([]notification.Notification, 0, len(rows))
	for _, n := range rows {
		list = append(list, toNotification(n))
	}
	return list
}

// Create は通知を保存する。
func (s *notificationStore) Create(ctx context.Context, n notification.Notification) error {
	return s.queries.CreateNotification(ctx, socialdb.CreateNotificationParams{
		ID:        n.ID,
		UserID:    n.UserID,
		Content:   n.Content,
		Url:       n.URL,
		CreatedAt: n.CreatedAt,
	})
}

// Get は通知を1件取得する。
func (s *notificationStore) Get(ctx context.Context, id string) (notification.Notification, error) {
	n, err := s.queries.GetNotificationByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return notification.Notification{}, notification.ErrNotFound
	}
	if err != nil {
		return notification.Notification{}, err
	}
	return toNotification(n), nil
}

// ListByUser はユーザーの通知を新しい順に返す。
func (s *notificationStore) ListByUser(ctx context.Context, userID string, page notification.Page) ([]notification.Notification, error) {
	var (
		rows []socialdb.Notification
		err  error
	)
	if page.Limit > 0 {
		rows, err = s.queries.ListNotificationsByUserIDPaged(ctx, socialdb.ListNotificationsByUserIDPagedParams{
			UserID: userID,
			Limit:  int64(page.Limit),
			Offset: int64(page.Offset),
		})
	} else {
		rows, err = s.queries.ListNotificationsByUserID(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	return toNotifications(rows), nil
}

// ListUnreadByUser はユーザーの未読通知を新しい順に返す。
func (s *notificationStore) ListUnreadByUser(ctx context.Context, userID string) ([]notification.Notification, error) {
	rows, err := s.queries.ListUnreadNotifications(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toNotifications(rows), nil
}

// MarkAllRead は未読通知をすべて既読にし、更新件数を返す。
func (s *notificationStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.queries.MarkAllAsRead(ctx, userID)
}

// MarkRead は通知を既読にする。
func (s *notificationStore) MarkRead(ctx context.Context, id string) error {
	return s.queries.MarkAsRead(ctx, id)
}

// CountUnread は未読通知数を返す。
func (s *notificationStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	return s.queries.CountUnreadNotifications(ctx, userID)
}
