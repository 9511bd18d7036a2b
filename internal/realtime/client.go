package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait は1フレームの書き込みに許す時間。
	writeWait = 10 * time.Second
	// pongWait はpongを待つ時間。これを過ぎると切断とみなす。
	pongWait = 60 * time.Second
	// pingPeriod はpingの送信間隔。pongWaitより短くなければならない。
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize はクライアントから受け付ける最大メッセージサイズ。
	maxMessageSize = 512
	// DefaultQueueSize は接続ごとの送信キューの長さ。
	DefaultQueueSize = 16
)

// Client は1本のWebSocket接続。
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewClient は接続を包むClientを生成する。connがnilの場合は送信キューだけを持つ。
func NewClient(userID string, conn *websocket.Conn, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Client{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

// ID は接続の識別子を返す。
func (c *Client) ID() string { return c.id }

// UserID は接続を所有するユーザーのIDを返す。
func (c *Client) UserID() string { return c.userID }

// Queue は送信待ちフレームのチャネルを返す。
func (c *Client) Queue() <-chan []byte { return c.send }

// Done は接続が閉じられたときに閉じるチャネルを返す。
func (c *Client) Done() <-chan struct{} { return c.done }

// enqueue はフレームを送信キューに積む。満杯または切断済みの場合はfalseを返す。
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close は接続を閉じる。何度呼んでもよい。
func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			_ = c.conn.Close()
		}
	})
}

// writePump は送信キューのフレームを書き込み、定期的にpingを送る。
// 接続ごとに1つのゴルーチンで動かす。
func (c *Client) writePump(log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug("フレームの書き込みに失敗", zap.String("client_id", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump は切断を検出するためだけに読み込みを続ける。受信内容は捨てる。
func (c *Client) readPump(log *zap.Logger) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("接続が予期せず切断された", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}
