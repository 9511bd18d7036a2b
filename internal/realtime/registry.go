package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrRegistryClosed はシャットダウン後に接続を登録しようとしたことを表す。
var ErrRegistryClosed = errors.New("レジストリは停止済みです")

// Frame はクライアントへ送るメッセージの形式。
type Frame struct {
	// Event はイベント名（例: new_notification）。
	Event string `json:"event"`
	// Data はイベントのペイロード。
	Data json.RawMessage `json:"data"`
}

// EncodeFrame はイベント名とペイロードからJSONフレームを生成する。
func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ペイロードのシリアライズに失敗: %w", err)
	}
	frame, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("フレームのシリアライズに失敗: %w", err)
	}
	return frame, nil
}

// Registry はユーザーIDごとの接続グループを保持する。
// Admit・Remove・Emit は複数のゴルーチンから同時に呼び出せる。
type Registry struct {
	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}
	closed bool
	log    *zap.Logger
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		groups: make(map[string]map[*Client]struct{}),
		log:    log.Named("realtime"),
	}
}

// Admit は認証済みの接続をユーザーのグループに追加する。
func (r *Registry) Admit(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	group, ok := r.groups[c.userID]
	if !ok {
		group = make(map[*Client]struct{})
		r.groups[c.userID] = group
	}
	group[c] = struct{}{}

	r.log.Debug("接続を登録",
		zap.String("user_id", c.userID),
		zap.String("client_id", c.id),
		zap.Int("connections", len(group)))
	return nil
}

// Remove は接続をグループから外す。未登録の接続を渡しても何もしない。
func (r *Registry) Remove(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.groups[c.userID]
	if !ok {
		return
	}
	if _, ok := group[c]; !ok {
		return
	}
	delete(group, c)
	if len(group) == 0 {
		delete(r.groups, c.userID)
	}

	r.log.Debug("接続を解除",
		zap.String("user_id", c.userID),
		zap.String("client_id", c.id))
}

// Emit はユーザーの全接続にイベントを送り、送信キューに積めた接続数を返す。
// キューが満杯の接続へのフレームは破棄する。呼び出し側をブロックしない。
func (r *Registry) Emit(userID, event string, payload any) int {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		r.log.Error("イベントのエンコードに失敗",
			zap.String("user_id", userID),
			zap.String("event", event),
			zap.Error(err))
		return 0
	}
	return r.EmitFrame(userID, frame)
}

// EmitFrame はエンコード済みのフレームをユーザーの全接続に送る。
func (r *Registry) EmitFrame(userID string, frame []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for c := range r.groups[userID] {
		if c.enqueue(frame) {
			delivered++
			continue
		}
		r.log.Warn("送信キューが満杯のためフレームを破棄",
			zap.String("user_id", userID),
			zap.String("client_id", c.id))
	}
	return delivered
}

// Connections はユーザーの現在の接続数を返す。
func (r *Registry) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[userID])
}

// Close は全接続を切断し、以降の登録を拒否する。
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	total := 0
	for userID, group := range r.groups {
		for c := range group {
			c.close()
			total++
		}
		delete(r.groups, userID)
	}
	r.log.Info("レジストリを停止", zap.Int("closed_connections", total))
}

// LocalPusher はRegistryをnotification.Pusherとして使うためのアダプタ。
type LocalPusher struct {
	Registry *Registry
}

// Emit は同一プロセス内の接続にのみ配信する。接続がない場合もエラーにしない。
func (p LocalPusher) Emit(_ context.Context, userID, event string, payload any) error {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	n := p.Registry.EmitFrame(userID, frame)
	p.Registry.log.Debug("イベントを配信",
		zap.String("user_id", userID),
		zap.String("event", event),
		zap.Int("delivered", n))
	return nil
}
