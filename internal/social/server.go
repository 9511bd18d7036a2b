package social

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/circle/internal/follow"
	"github.com/nao1215/circle/internal/notification"
	"github.com/nao1215/circle/internal/realtime"
	socialdb "github.com/nao1215/circle/internal/social/db"
	"github.com/nao1215/circle/internal/social/migrations"
	"github.com/nao1215/circle/pkg/middleware"
	"github.com/nao1215/circle/pkg/migration"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

// Server はフォロー・通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサービス設定。
	cfg Config
	// db はSQLiteデータベース接続。
	db *sql.DB
	// queries はsqlcが生成したクエリ実行オブジェクト。
	queries *socialdb.Queries
	users   *userStore
	follows *follow.Service
	// notifications は通知の保存と配信を行う。
	notifications *notification.Dispatcher
	// registry はWebSocket接続のレジストリ。
	registry *realtime.Registry
	// relay はRedis経由のインスタンス間配信。REDIS_ADDRが空の場合はnil。
	relay       *realtime.RedisRelay
	redisClient *redis.Client
	log         *zap.Logger
}

// NewServer は新しいサーバーを生成する。
// データベースを開いてマイグレーションを適用し、各コンポーネントを配線する。
func NewServer(ctx context.Context, cfg Config, log *zap.Logger) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if cfg.DatabasePath == ":memory:" {
		// 接続ごとに別のDBになるため1本に固定する
		sqlDB.SetMaxOpenConns(1)
	}

	if _, err := migration.Run(ctx, sqlDB, migrations.FS, ".", log); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		db:       sqlDB,
		queries:  socialdb.New(sqlDB),
		registry: realtime.NewRegistry(log),
		log:      log,
	}

	var pusher notification.Pusher = realtime.LocalPusher{Registry: s.registry}
	if cfg.RedisAddr != "" {
		s.redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = s.redisClient.Close()
			_ = sqlDB.Close()
			return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
		}
		s.relay = realtime.NewRedisRelay(s.redisClient, cfg.RedisChannel, s.registry, log)
		pusher = s.relay
	}

	s.wire(pusher)
	s.router = s.newRouter()
	return s, nil
}

// wire はストアとサービスを組み立てる。
func (s *Server) wire(pusher notification.Pusher) {
	s.users = &userStore{queries: s.queries, now: func() time.Time { return time.Now().UTC() }}

	var (
		followOpts       []follow.Option
		notificationOpts []notification.Option
	)
	if s.cfg.EventStoreURL != "" {
		events := newEventPublisher(s.cfg.EventStoreURL)
		followOpts = append(followOpts, follow.WithEventPublisher(events))
		notificationOpts = append(notificationOpts, notification.WithSender(events))
	}

	s.notifications = notification.NewDispatcher(&notificationStore{queries: s.queries}, s.users, pusher, s.log, notificationOpts...)
	followOpts = append(followOpts, follow.WithNotifier(notification.FollowNotifier{Dispatcher: s.notifications}))
	s.follows = follow.NewService(s.users, &followStore{queries: s.queries}, s.log, followOpts...)
}

// newRouter はミドルウェアとルーティングを設定したルーターを返す。
func (s *Server) newRouter() *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery(s.log))
	router.Use(gin.Logger())
	router.Use(middleware.CORS(s.cfg.AllowedOrigins()))

	if s.cfg.DevTokenEnabled {
		// 開発用トークン発行（認証不要）
		router.POST("/auth/dev-token", s.handleDevToken())
	}

	api := router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.cfg.JWTSecret))
	{
		api.GET("/me", s.handleMe())
		api.GET("/users/:username", s.handleProfile())
		api.GET("/users/:username/following", s.handleListFollowing())
		api.GET("/users/:username/followers", s.handleListFollowers())

		api.POST("/follow/:username", s.handleFollow())
		api.DELETE("/follow/:username", s.handleUnfollow())

		notifications := api.Group("/notifications")
		{
			notifications.GET("", s.handleListNotifications())
			notifications.GET("/unread", s.handleListUnread())
			notifications.GET("/unread/count", s.handleUnreadCount())
			notifications.POST("/read", s.handleMarkAllAsRead())
			notifications.PUT("/:id/read", s.handleMarkAsRead())
		}
	}

	if s.cfg.InternalToken != "" {
		// 他サービスから通知を作成する内部API。ユーザーのJWTでは呼べない
		internal := router.Group("/api/v1/internal")
		internal.Use(middleware.InternalAuth(s.cfg.InternalToken))
		internal.POST("/notifications", s.handleCreateNotification())
	}

	// WebSocketはクエリパラメータのトークンも受け付けるためJWTAuthの外に置く
	ws := realtime.NewHandler(s.registry, realtime.JWTVerifier(s.cfg.JWTSecret), s.cfg.AllowedOrigins(), s.log)
	router.GET("/ws", ws.Serve())

	router.GET("/health", s.handleHealth())
	return router
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされたらグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	if s.relay != nil {
		go func() {
			if err := s.relay.Run(relayCtx); err != nil {
				s.log.Error("Redisリレーが停止", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("サービスを起動します", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("シャットダウンを開始します")
	stopRelay()
	// ハイジャック済みのWebSocket接続はShutdownの対象外なので先に閉じる
	s.registry.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// Close はレジストリとデータベース・Redis接続を閉じる。
func (s *Server) Close() error {
	s.registry.Close()
	var errs []error
	if s.redisClient != nil {
		errs = append(errs, s.redisClient.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}
