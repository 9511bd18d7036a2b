package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventNewNotification はリアルタイム配信で使うイベント名。
const EventNewNotification = "new_notification"

var (
	// ErrNotFound は通知が存在しないことを表す。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrForbidden は他ユーザーの通知を操作しようとしたことを表す。
	ErrForbidden = errors.New("この通知を操作する権限がありません")
	// ErrRecipientNotFound は通知先のユーザーが存在しないことを表す。
	ErrRecipientNotFound = errors.New("通知先のユーザーが見つかりません")
	// ErrInvalidArgument は受信者や本文が空であることを表す。
	ErrInvalidArgument = errors.New("通知の内容が不正です")
)

// Notification はユーザーに届く1件の通知。
// IsRead がfalseからtrueに変わる以外は作成後に変更されない。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string `json:"id"`
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// Content は通知本文。
	Content string `json:"content"`
	// URL は通知から遷移する先のパス。
	URL string `json:"url"`
	// IsRead は既読状態。
	IsRead bool `json:"is_read"`
	// CreatedAt は作成日時（UTC）。
	CreatedAt time.Time `json:"created_at"`
}

// Page は一覧取得の範囲指定。Limitが0の場合は全件を返す。
type Page struct {
	Limit  int
	Offset int
}

// Store は通知の永続化層。
type Store interface {
	Create(ctx context.Context, n Notification) error
	// Get は通知を1件返す。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, id string) (Notification, error)
	// ListByUser は新しい順に通知を返す。
	ListByUser(ctx context.Context, userID string, page Page) ([]Notification, error)
	ListUnreadByUser(ctx context.Context, userID string) ([]Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, id string) error
	CountUnread(ctx context.Context, userID string) (int64, error)
}

// Pusher は接続中のクライアントへイベントを送る。
// Emit はブロックしてはならない。
type Pusher interface {
	Emit(ctx context.Context, userID, event string, payload any) error
}

// Recipients は通知先ユーザーの存在を確認する。
type Recipients interface {
	RecipientExists(ctx context.Context, userID string) (bool, error)
}

// Sender は作成した通知を外部へ知らせるフック。Event Storeへの記録に使う。
type Sender interface {
	NotificationSent(ctx context.Context, n Notification) error
}

// Dispatcher は通知の作成・取得・既読管理を行う。
type Dispatcher struct {
	store      Store
	recipients Recipients
	pusher     Pusher
	sender Sender
	log    *zap.Logger
	now    func() time.Time
	newID  func() string
}

// Option はDispatcherの任意設定。
type Option func(*Dispatcher)

// WithSender は通知作成後のイベント送信先を設定する。
func WithSender(s Sender) Option {
	return func(d *Dispatcher) { d.sender = s }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher は新しいDispatcherを生成する。pusherがnilの場合はリアルタイム配信を行わない。
func NewDispatcher(store Store, recipients Recipients, pusher Pusher, log *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:      store,
		recipients: recipients,
		pusher:     pusher,
		log:    log.Named("notification"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify は通知を保存し、受信者の接続へ配信する。
// 配信の成否に関わらず保存した通知を返す。
func (d *Dispatcher) Notify(ctx context.Context, recipientID, content, url string) (Notification, error) {
	if recipientID == "" || content == "" {
		return Notification{}, ErrInvalidArgument
	}
	exists, err := d.recipients.RecipientExists(ctx, recipientID)
	if err != nil {
		return Notification{}, fmt.Errorf("通知先ユーザーの確認に失敗: %w", err)
	}
	if !exists {
		return Notification{}, ErrRecipientNotFound
	}

	n := Notification{
		ID:        d.newID(),
		UserID:    recipientID,
		Content:   content,
		URL:       url,
		IsRead:    false,
		CreatedAt: d.now().UTC().Truncate(time.Millisecond),
	}
	if err := d.store.Create(ctx, n); err != nil {
		return Notification{}, fmt.Errorf("通知の保存に失敗: %w", err)
	}

	d.push(ctx, n)

	if d.sender != nil {
		if err := d.sender.NotificationSent(ctx, n); err != nil {
			d.log.Warn("NotificationSentイベントの送信に失敗",
				zap.String("notification_id", n.ID), zap.Error(err))
		}
	}
	return n, nil
}

// push は保存済みの通知を配信する。失敗はログに残して捨てる。
func (d *Dispatcher) push(ctx context.Context, n Notification) {
	if d.pusher == nil {
		return
	}
	if err := d.pusher.Emit(ctx, n.UserID, EventNewNotification, n); err != nil {
		d.log.Debug("通知のリアルタイム配信に失敗",
			zap.String("notification_id", n.ID),
			zap.String("user_id", n.UserID),
			zap.Error(err))
	}
}

// ListForUser はユーザーの通知を新しい順に返す。
func (d *Dispatcher) ListForUser(ctx context.Context, userID string, page Page) ([]Notification, error) {
	if page.Limit < 0 || page.Offset < 0 {
		return nil, ErrInvalidArgument
	}
	list, err := d.store.ListByUser(ctx, userID, page)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return list, nil
}

// ListUnread はユーザーの未読通知を新しい順に返す。
func (d *Dispatcher) ListUnread(ctx context.Context, userID string) ([]Notification, error) {
	list, err := d.store.ListUnreadByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("未読通知一覧の取得に失敗: %w", err)
	}
	return list, nil
}

// MarkAllRead はユーザーの未読通知をすべて既読にする。何度呼んでもよい。
func (d *Dispatcher) MarkAllRead(ctx context.Context, userID string) error {
	updated, err := d.store.MarkAllRead(ctx, userID)
	if err != nil {
		return fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	d.log.Debug("通知を既読にした", zap.String("user_id", userID), zap.Int64("updated", updated))
	return nil
}

// MarkRead は通知を1件既読にする。他ユーザーの通知はErrForbiddenとなる。
func (d *Dispatcher) MarkRead(ctx context.Context, userID, id string) error {
	n, err := d.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("通知の取得に失敗: %w", err)
	}
	if n.UserID != userID {
		return ErrForbidden
	}
	if n.IsRead {
		return nil
	}
	if err := d.store.MarkRead(ctx, id); err != nil {
		return fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	return nil
}

// UnreadCount はユーザーの未読通知数を返す。
func (d *Dispatcher) UnreadCount(ctx context.Context, userID string) (int64, error) {
	count, err := d.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("未読数の取得に失敗: %w", err)
	}
	return count, nil
}

// FollowNotifier はDispatcherをフォロー通知の送信先として使うためのアダプタ。
type FollowNotifier struct {
	Dispatcher *Dispatcher
}

// Notify は通知を作成し、作成結果は捨てる。
func (f FollowNotifier) Notify(ctx context.Context, recipientID, content, url string) error {
	_, err := f.Dispatcher.Notify(ctx, recipientID, content, url)
	return err
}
