package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultRelayChannel はインスタンス間配信に使うRedisチャネル名。
	DefaultRelayChannel = "circle:realtime"
	// DefaultRelayQueueSize は発行待ちメッセージの上限。
	DefaultRelayQueueSize = 256
	// publishTimeout は1件の発行に許す時間。
	publishTimeout = 5 * time.Second
)

// ErrRelayQueueFull は発行待ちキューが満杯でメッセージを破棄したことを表す。
var ErrRelayQueueFull = errors.New("リレーの送信キューが満杯です")

// redisPubSub はRedisRelayが使うRedisクライアントの機能。
type redisPubSub interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// relayMessage はRedisチャネルを流れるメッセージ。
type relayMessage struct {
	// UserID は配信先のユーザーID。
	UserID string `json:"user_id"`
	// Frame はクライアントへそのまま送るフレーム。
	Frame json.RawMessage `json:"frame"`
}

// RedisRelay はRedis pub/sub経由で全インスタンスのRegistryへイベントを配信する。
// notification.Pusherを満たす。
// Redisへの発行はRunが起動するゴルーチンが行い、Emitはキューに積むだけで戻る。
type RedisRelay struct {
	client   redisPubSub
	channel  string
	registry *Registry
	outbox   chan []byte
	log      *zap.Logger
}

// RelayOption はRedisRelayの任意設定。
type RelayOption func(*RedisRelay)

// WithRelayQueueSize は発行待ちキューの長さを設定する。
func WithRelayQueueSize(n int) RelayOption {
	return func(r *RedisRelay) {
		if n > 0 {
			r.outbox = make(chan []byte, n)
		}
	}
}

// NewRedisRelay は新しいRedisRelayを生成する。channelが空の場合はDefaultRelayChannelを使う。
func NewRedisRelay(client redisPubSub, channel string, registry *Registry, log *zap.Logger, opts ...RelayOption) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	r := &RedisRelay{
		client:   client,
		channel:  channel,
		registry: registry,
		outbox:   make(chan []byte, DefaultRelayQueueSize),
		log:      log.Named("relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Emit はイベントを発行待ちキューに積む。ブロックせず、満杯の場合は破棄してErrRelayQueueFullを返す。
// ローカルへの配信はRunが受信して行う。
func (r *RedisRelay) Emit(_ context.Context, userID, event string, payload any) error {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(relayMessage{UserID: userID, Frame: frame})
	if err != nil {
		return fmt.Errorf("リレーメッセージのシリアライズに失敗: %w", err)
	}
	select {
	case r.outbox <- msg:
		return nil
	default:
		r.log.Warn("リレーの送信キューが満杯のためイベントを破棄",
			zap.String("user_id", userID),
			zap.String("event", event))
		return ErrRelayQueueFull
	}
}

// publishLoop はキューのメッセージをctxがキャンセルされるまで順に発行する。
func (r *RedisRelay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.outbox:
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := r.client.Publish(pubCtx, r.channel, msg).Err()
			cancel()
			if err != nil && ctx.Err() == nil {
				r.log.Warn("Redisへの発行に失敗", zap.Error(err))
			}
		}
	}
}

// Run は発行ゴルーチンを起動してチャネルを購読し、受信したイベントをローカルのRegistryに配信する。
// ctxがキャンセルされるまでブロックする。
func (r *RedisRelay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.publishLoop(ctx)
	}()
	defer wg.Wait()
	defer cancel()

	sub := r.client.Subscribe(ctx, r.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			r.log.Warn("購読の終了に失敗", zap.Error(err))
		}
	}()

	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("Redisチャネルの購読に失敗: %w", err)
	}
	r.log.Info("Redisチャネルを購読開始", zap.String("channel", r.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(msg.Payload)
		}
	}
}

// deliver は受信したメッセージをローカルの接続に配信し、配信数を返す。
func (r *RedisRelay) deliver(payload string) int {
	var msg relayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.log.Warn("不正なリレーメッセージを破棄", zap.Error(err))
		return 0
	}
	if msg.UserID == "" || len(msg.Frame) == 0 {
		r.log.Warn("宛先またはフレームのないリレーメッセージを破棄")
		return 0
	}
	return r.registry.EmitFrame(msg.UserID, msg.Frame)
}
