package realtime

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nao1215/circle/pkg/middleware"
	"go.uber.org/zap"
)

// Verifier はハンドシェイク時に提示されたトークンを検証し、ユーザーIDを返す。
type Verifier interface {
	Verify(token string) (userID string, err error)
}

// VerifierFunc は関数をVerifierとして使うためのアダプタ。
type VerifierFunc func(token string) (string, error)

// Verify はf(token)を呼ぶ。
func (f VerifierFunc) Verify(token string) (string, error) { return f(token) }

// JWTVerifier はHS256署名のJWTを検証するVerifierを返す。
func JWTVerifier(secret string) Verifier {
	return VerifierFunc(func(token string) (string, error) {
		claims, err := middleware.ParseToken(secret, token)
		if err != nil {
			return "", err
		}
		return claims.UserID, nil
	})
}

// Handler はGET /ws のWebSocketハンドシェイクを処理する。
type Handler struct {
	registry  *Registry
	verifier  Verifier
	upgrader  websocket.Upgrader
	queueSize int
	log       *zap.Logger
}

// NewHandler は新しいHandlerを生成する。
// allowedOriginsが空か"*"を含む場合はすべてのOriginを受け付ける。
func NewHandler(registry *Registry, verifier Verifier, allowedOrigins []string, log *zap.Logger) *Handler {
	anyOrigin := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	return &Handler{
		registry: registry,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return anyOrigin || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
		queueSize: DefaultQueueSize,
		log:       log.Named("ws"),
	}
}

// tokenFrom はAuthorizationヘッダー、なければtokenクエリパラメータからトークンを取り出す。
// ブラウザのWebSocket APIはヘッダーを設定できないためクエリも受け付ける。
func tokenFrom(c *gin.Context) string {
	if token, ok := middleware.BearerToken(c.GetHeader("Authorization")); ok {
		return token
	}
	return c.Query("token")
}

// Serve は認証後に接続をアップグレードし、切断までRegistryに登録するハンドラを返す。
func (h *Handler) Serve() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFrom(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "トークンが必要です"})
			return
		}
		userID, err := h.verifier.Verify(token)
		if err != nil || userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "トークンが無効です"})
			return
		}

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgradeが既にエラーレスポンスを書き込んでいる
			h.log.Warn("WebSocketへのアップグレードに失敗", zap.Error(err))
			return
		}

		client := NewClient(userID, conn, h.queueSize)
		if err := h.registry.Admit(client); err != nil {
			h.log.Warn("接続の登録を拒否", zap.String("user_id", userID), zap.Error(err))
			client.close()
			return
		}
		defer h.registry.Remove(client)

		h.log.Info("WebSocket接続を確立",
			zap.String("user_id", userID),
			zap.String("client_id", client.id))

		go client.writePump(h.log)
		client.readPump(h.log)

		h.log.Info("WebSocket接続を切断",
			zap.String("user_id", userID),
			zap.String("client_id", client.id))
	}
}
