package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testPayload struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// decodeFrame はキューから取り出したフレームを検証しやすい形に戻す。
func decodeFrame(t *testing.T, raw []byte) (string, testPayload) {
	t.Helper()
	var f Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	var p testPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	return f.Event, p
}

func TestRegistry_EmitFansOutToEveryConnection(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	phone := NewClient("u2", nil, 4)
	laptop := NewClient("u2", nil, 4)
	other := NewClient("u3", nil, 4)
	for _, c := range []*Client{phone, laptop, other} {
		require.NoError(t, reg.Admit(c))
	}

	n := reg.Emit("u2", "new_notification", testPayload{ID: "n1", Content: "hello"})
	assert.Equal(t, 2, n)

	for _, c := range []*Client{phone, laptop} {
		select {
		case raw := <-c.Queue():
			event, p := decodeFrame(t, raw)
			assert.Equal(t, "new_notification", event)
			assert.Equal(t, "n1", p.ID)
		default:
			t.Fatalf("client %s did not receive the frame", c.ID())
		}
	}
	assert.Empty(t, other.Queue(), "other users must not receive the frame")
}

func TestRegistry_EmitToAbsentUserIsNoop(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	assert.Equal(t, 0, reg.Emit("nobody", "new_notification", testPayload{ID: "n1"}))
	assert.NoError(t, LocalPusher{Registry: reg}.Emit(context.Background(), "nobody", "new_notification", testPayload{ID: "n1"}))
}

func TestRegistry_RemoveDropsEmptyGroup(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	a := NewClient("u1", nil, 1)
	b := NewClient("u1", nil, 1)
	require.NoError(t, reg.Admit(a))
	require.NoError(t, reg.Admit(b))
	assert.Equal(t, 2, reg.Connections("u1"))

	reg.Remove(a)
	assert.Equal(t, 1, reg.Connections("u1"))
	reg.Remove(a)
	assert.Equal(t, 1, reg.Connections("u1"), "removing twice must be harmless")

	reg.Remove(b)
	assert.Equal(t, 0, reg.Connections("u1"))
	reg.mu.RLock()
	_, exists := reg.groups["u1"]
	reg.mu.RUnlock()
	assert.False(t, exists)
}

func TestRegistry_FullQueueDropsWithoutBlocking(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	slow := NewClient("u1", nil, 1)
	fast := NewClient("u1", nil, 8)
	require.NoError(t, reg.Admit(slow))
	require.NoError(t, reg.Admit(fast))

	assert.Equal(t, 2, reg.Emit("u1", "e", testPayload{ID: "1"}))
	// slowのキューは満杯
	assert.Equal(t, 1, reg.Emit("u1", "e", testPayload{ID: "2"}))
	assert.Len(t, slow.Queue(), 1)
	assert.Len(t, fast.Queue(), 2)
}

func TestRegistry_EncodeFailureDeliversNothing(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	c := NewClient("u1", nil, 1)
	require.NoError(t, reg.Admit(c))

	assert.Equal(t, 0, reg.Emit("u1", "e", make(chan int)))
	assert.Error(t, LocalPusher{Registry: reg}.Emit(context.Background(), "u1", "e", make(chan int)))
	assert.Empty(t, c.Queue())
}

func TestRegistry_CloseDisconnectsAll(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	a := NewClient("u1", nil, 1)
	b := NewClient("u2", nil, 1)
	require.NoError(t, reg.Admit(a))
	require.NoError(t, reg.Admit(b))

	reg.Close()
	reg.Close()

	for _, c := range []*Client{a, b} {
		select {
		case <-c.Done():
		default:
			t.Fatalf("client %s was not closed", c.ID())
		}
	}
	assert.Equal(t, 0, reg.Connections("u1"))
	assert.ErrorIs(t, reg.Admit(NewClient("u1", nil, 1)), ErrRegistryClosed)
	assert.Equal(t, 0, reg.Emit("u1", "e", testPayload{}))
}

func TestRegistry_ConcurrentAdmitRemoveEmit(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	const workers = 16

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("u%d", i%4)
			for j := range 100 {
				c := NewClient(userID, nil, 2)
				if err := reg.Admit(c); err != nil {
					t.Errorf("Admit failed: %v", err)
					return
				}
				reg.Emit(userID, "e", testPayload{ID: fmt.Sprint(j)})
				_ = reg.Connections(userID)
				reg.Remove(c)
			}
		}(i)
	}
	wg.Wait()

	for i := range 4 {
		assert.Equal(t, 0, reg.Connections(fmt.Sprintf("u%d", i)))
	}
}

func TestLocalPusher(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	c := NewClient("u1", nil, 1)
	require.NoError(t, reg.Admit(c))

	require.NoError(t, LocalPusher{Registry: reg}.Emit(context.Background(), "u1", "new_notification", testPayload{ID: "n9"}))
	event, p := decodeFrame(t, <-c.Queue())
	assert.Equal(t, "new_notification", event)
	assert.Equal(t, "n9", p.ID)
}
