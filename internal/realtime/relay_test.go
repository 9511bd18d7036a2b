package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// hangingRedis は応答しないRedisを模す。Publishはctxがキャンセルされるまで戻らない。
type hangingRedis struct {
	*redis.Client
	once    sync.Once
	started chan struct{}
}

func (h *hangingRedis) Publish(ctx context.Context, _ string, _ any) *redis.IntCmd {
	h.once.Do(func() { close(h.started) })
	<-ctx.Done()
	cmd := redis.NewIntCmd(ctx)
	cmd.SetErr(ctx.Err())
	return cmd
}

// newTestRedis はプロセス内のRedisサーバーとクライアントを返す。
func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// startRelay はRunを起動し、購読が確立するまで待つ。停止関数はRunの戻り値を返す。
func startRelay(t *testing.T, mr *miniredis.Miniredis, relay *RedisRelay) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(relay.channel)[relay.channel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case runErr = <-done:
			case <-time.After(2 * time.Second):
				t.Error("Runがキャンセル後に戻らない")
			}
		})
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func TestRedisRelay_EmitEnqueuesFrame(t *testing.T) {
	_, client := newTestRedis(t)
	relay := NewRedisRelay(client, "", NewRegistry(zap.NewNop()), zap.NewNop())
	assert.Equal(t, DefaultRelayChannel, relay.channel)

	require.NoError(t, relay.Emit(context.Background(), "u2", "new_notification", testPayload{ID: "n1"}))
	require.Len(t, relay.outbox, 1)

	var msg relayMessage
	require.NoError(t, json.Unmarshal(<-relay.outbox, &msg))
	assert.Equal(t, "u2", msg.UserID)
	event, p := decodeFrame(t, msg.Frame)
	assert.Equal(t, "new_notification", event)
	assert.Equal(t, "n1", p.ID)
}

func TestRedisRelay_EmitDoesNotWaitForPublish(t *testing.T) {
	mr, client := newTestRedis(t)
	hanging := &hangingRedis{Client: client, started: make(chan struct{})}
	core, logs := observer.New(zapcore.WarnLevel)
	relay := NewRedisRelay(hanging, "", NewRegistry(zap.NewNop()), zap.New(core), WithRelayQueueSize(2))
	startRelay(t, mr, relay)

	require.NoError(t, relay.Emit(context.Background(), "u2", "new_notification", testPayload{ID: "n0"}))
	select {
	case <-hanging.started:
	case <-time.After(2 * time.Second):
		t.Fatal("発行が開始されない")
	}

	// 発行ゴルーチンが止まっていてもEmitはすぐに戻り、溢れた分は破棄される
	start := time.Now()
	require.NoError(t, relay.Emit(context.Background(), "u2", "new_notification", testPayload{ID: "n1"}))
	require.NoError(t, relay.Emit(context.Background(), "u2", "new_notification", testPayload{ID: "n2"}))
	assert.ErrorIs(t, relay.Emit(context.Background(), "u2", "new_notification", testPayload{ID: "n3"}), ErrRelayQueueFull)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, logs.FilterMessage("リレーの送信キューが満杯のためイベントを破棄").Len())
}

func TestRedisRelay_RunDeliversPublishedFrames(t *testing.T) {
	mr, client := newTestRedis(t)
	reg := NewRegistry(zap.NewNop())
	c := NewClient("u2", nil, 4)
	require.NoError(t, reg.Admit(c))

	relay := NewRedisRelay(client, "circle:test", reg, zap.NewNop())
	stop := startRelay(t, mr, relay)

	t.Run("Emitした内容がRedis経由でローカル接続に届くこと", func(t *testing.T) {
		require.NoError(t, relay.Emit(context.Background(), "u2", "new_notification", testPayload{ID: "n1"}))
		select {
		case frame := <-c.Queue():
			event, p := decodeFrame(t, frame)
			assert.Equal(t, "new_notification", event)
			assert.Equal(t, "n1", p.ID)
		case <-time.After(2 * time.Second):
			t.Fatal("フレームが届かない")
		}
	})

	t.Run("他インスタンスが発行したメッセージも配信されること", func(t *testing.T) {
		frame, err := EncodeFrame("new_notification", testPayload{ID: "remote"})
		require.NoError(t, err)
		msg, err := json.Marshal(relayMessage{UserID: "u2", Frame: frame})
		require.NoError(t, err)
		mr.Publish("circle:test", string(msg))

		select {
		case got := <-c.Queue():
			_, p := decodeFrame(t, got)
			assert.Equal(t, "remote", p.ID)
		case <-time.After(2 * time.Second):
			t.Fatal("フレームが届かない")
		}
	})

	t.Run("キャンセルで購読を解除してnilを返すこと", func(t *testing.T) {
		require.NoError(t, stop())
		assert.Eventually(t, func() bool {
			return mr.PubSubNumSub("circle:test")["circle:test"] == 0
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestRedisRelay_RunFailsWhenRedisUnreachable(t *testing.T) {
	// 何も待ち受けていないポート
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	relay := NewRedisRelay(client, "", NewRegistry(zap.NewNop()), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, relay.Run(ctx))
}

func TestRedisRelay_DeliverDiscardsMalformed(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	c := NewClient("u2", nil, 2)
	require.NoError(t, reg.Admit(c))
	_, client := newTestRedis(t)
	relay := NewRedisRelay(client, "", reg, zap.NewNop())

	assert.Equal(t, 0, relay.deliver("not json"))
	assert.Equal(t, 0, relay.deliver(`{"user_id":"","frame":{}}`))
	assert.Equal(t, 0, relay.deliver(`{"user_id":"u2"}`))
	assert.Empty(t, c.Queue())
}
