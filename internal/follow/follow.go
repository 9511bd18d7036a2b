// Package follow はユーザー間のフォロー関係（有向エッジ）を管理する。
//
// フォロー・フォロー解除はどちらも冪等であり、同じ操作を繰り返しても
// 終状態は同じで常に成功となる。新しくエッジが作成されたときだけ、
// フォローされたユーザーへ通知を送る。
package follow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotFound は対象ユーザーが存在しないことを表す。
	ErrNotFound = errors.New("ユーザーが見つかりません")
	// ErrInvalidOperation は自分自身をフォローしようとしたことを表す。
	ErrInvalidOperation = errors.New("自分自身はフォローできません")
)

// User はフォロー関係の端点となるユーザー。
type User struct {
	// ID はユーザーの一意識別子。
	ID string `json:"id"`
	// Username はURLやフォロー操作で使うユーザー名。
	Username string `json:"username"`
	// DisplayName は表示名。
	DisplayName string `json:"display_name"`
}

// Edge はfollowerからfollowingへの有向のフォロー関係。
type Edge struct {
	FollowerID  string
	FollowingID string
	CreatedAt   time.Time
}

// Relation は閲覧者と対象ユーザーの関係。
type Relation struct {
	// Following は閲覧者が対象をフォローしているか。
	Following bool `json:"following"`
	// FollowedBy は対象が閲覧者をフォローしているか。
	FollowedBy bool `json:"followed_by"`
}

// Counts はユーザーのフォロー数・フォロワー数。
type Counts struct {
	Followers int64 `json:"followers"`
	Following int64 `json:"following"`
}

// Resolver はユーザー名・IDからユーザーを解決する。
// 存在しない場合はErrNotFoundを返す。
type Resolver interface {
	ResolveByUsername(ctx context.Context, username string) (User, error)
	ResolveByID(ctx context.Context, id string) (User, error)
}

// Store はフォロー関係の永続化層。
type Store interface {
	// Exists はエッジが存在するかを返す。
	Exists(ctx context.Context, followerID, followingID string) (bool, error)
	// Create はエッジを作成する。既に存在する場合はエラーにせずfalseを返す。
	Create(ctx context.Context, edge Edge) (bool, error)
	// Delete はエッジを削除する。存在しない場合はエラーにせずfalseを返す。
	Delete(ctx context.Context, followerID, followingID string) (bool, error)
	// ListFollowing はuserIDがフォローしているユーザーを返す。
	ListFollowing(ctx context.Context, userID string) ([]User, error)
	// ListFollowers はuserIDをフォローしているユーザーを返す。
	ListFollowers(ctx context.Context, userID string) ([]User, error)
	// Count はuserIDのフォロワー数とフォロー数を返す。
	Count(ctx context.Context, userID string) (Counts, error)
}

// Notifier はフォローされたユーザーへの通知を送る。
type Notifier interface {
	Notify(ctx context.Context, recipientID, content, url string) error
}

// EventPublisher はフォロー関係の変化をイベントとして外部に送る。
// 送信はベストエフォートで、エラーはログに記録するだけとする。
type EventPublisher interface {
	FollowCreated(ctx context.Context, followerID, followingID string) error
	FollowDeleted(ctx context.Context, followerID, followingID string) error
}

// Service はフォローグラフの操作を提供する。
type Service struct {
	resolver Resolver
	store    Store
	notifier Notifier
	events   EventPublisher
	log      *zap.Logger
	now      func() time.Time
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithNotifier は新規フォロー時の通知先を設定する。
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithEventPublisher はフォロー関係イベントの送信先を設定する。
func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService は新しいServiceを生成する。
func NewService(resolver Resolver, store Store, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		resolver: resolver,
		store:    store,
		log:      log.Named("follow"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Follow はfollowerIDのユーザーがtargetUsernameのユーザーをフォローする。
// 既にフォロー済みの場合は何もせず成功を返す。
func (s *Service) Follow(ctx context.Context, followerID, targetUsername string) error {
	target, err := s.resolve(ctx, targetUsername)
	if err != nil {
		return err
	}
	if target.ID == followerID {
		return ErrInvalidOperation
	}

	exists, err := s.store.Exists(ctx, followerID, target.ID)
	if err != nil {
		return fmt.Errorf("フォロー関係の確認に失敗: %w", err)
	}
	if exists {
		return nil
	}

	created, err := s.store.Create(ctx, Edge{
		FollowerID:  followerID,
		FollowingID: target.ID,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return fmt.Errorf("フォロー関係の作成に失敗: %w", err)
	}
	if !created {
		// 確認と作成の間に別リクエストが作成した
		return nil
	}

	s.afterFollow(ctx, followerID, target)
	return nil
}

// afterFollow は新規フォロー後の通知とイベント送信を行う。
// どちらもフォロー自体の成否には影響させない。
func (s *Service) afterFollow(ctx context.Context, followerID string, target User) {
	if s.notifier != nil {
		follower, err := s.resolver.ResolveByID(ctx, followerID)
		if err != nil {
			s.log.Warn("フォロー元ユーザーの取得に失敗したため通知を省略",
				zap.String("follower_id", followerID), zap.Error(err))
		} else {
			content := fmt.Sprintf("%s followed you", displayName(follower))
			url := "/profile/" + follower.Username
			if err := s.notifier.Notify(ctx, target.ID, content, url); err != nil {
				s.log.Error("フォロー通知の作成に失敗",
					zap.String("follower_id", followerID),
					zap.String("following_id", target.ID),
					zap.Error(err))
			}
		}
	}

	if s.events != nil {
		if err := s.events.FollowCreated(ctx, followerID, target.ID); err != nil {
			s.log.Warn("UserFollowedイベントの送信に失敗", zap.Error(err))
		}
	}
}

// Unfollow はfollowerIDのユーザーによるtargetUsernameのフォローを解除する。
// フォローしていない場合も成功を返す。
func (s *Service) Unfollow(ctx context.Context, followerID, targetUsername string) error {
	target, err := s.resolve(ctx, targetUsername)
	if err != nil {
		return err
	}

	removed, err := s.store.Delete(ctx, followerID, target.ID)
	if err != nil {
		return fmt.Errorf("フォロー関係の削除に失敗: %w", err)
	}

	if removed && s.events != nil {
		if err := s.events.FollowDeleted(ctx, followerID, target.ID); err != nil {
			s.log.Warn("UserUnfollowedイベントの送信に失敗", zap.Error(err))
		}
	}
	return nil
}

// ListFollowing はusernameのユーザーがフォローしているユーザー一覧を返す。順序は保証しない。
func (s *Service) ListFollowing(ctx context.Context, username string) ([]User, error) {
	u, err := s.resolve(ctx, username)
	if err != nil {
		return nil, err
	}
	users, err := s.store.ListFollowing(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("フォロー一覧の取得に失敗: %w", err)
	}
	return users, nil
}

// ListFollowers はusernameのユーザーをフォローしているユーザー一覧を返す。順序は保証しない。
func (s *Service) ListFollowers(ctx context.Context, username string) ([]User, error) {
	u, err := s.resolve(ctx, username)
	if err != nil {
		return nil, err
	}
	users, err := s.store.ListFollowers(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("フォロワー一覧の取得に失敗: %w", err)
	}
	return users, nil
}

// Relation はviewerIDとusernameのユーザーの相互のフォロー状態を返す。
func (s *Service) Relation(ctx context.Context, viewerID, username string) (Relation, error) {
	target, err := s.resolve(ctx, username)
	if err != nil {
		return Relation{}, err
	}
	if target.ID == viewerID {
		return Relation{}, nil
	}

	following, err := s.store.Exists(ctx, viewerID, target.ID)
	if err != nil {
		return Relation{}, fmt.Errorf("フォロー関係の確認に失敗: %w", err)
	}
	followedBy, err := s.store.Exists(ctx, target.ID, viewerID)
	if err != nil {
		return Relation{}, fmt.Errorf("フォロー関係の確認に失敗: %w", err)
	}
	return Relation{Following: following, FollowedBy: followedBy}, nil
}

// Counts はusernameのユーザーのフォロワー数とフォロー数を返す。
func (s *Service) Counts(ctx context.Context, username string) (Counts, error) {
	u, err := s.resolve(ctx, username)
	if err != nil {
		return Counts{}, err
	}
	counts, err := s.store.Count(ctx, u.ID)
	if err != nil {
		return Counts{}, fmt.Errorf("フォロー数の取得に失敗: %w", err)
	}
	return counts, nil
}

// resolve はユーザー名を解決する。解決できない場合はErrNotFoundを返す。
func (s *Service) resolve(ctx context.Context, username string) (User, error) {
	if username == "" {
		return User{}, ErrNotFound
	}
	u, err := s.resolver.ResolveByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("ユーザーの解決に失敗: %w", err)
	}
	return u, nil
}

func displayName(u User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
