package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	esdb "github.com/nao1215/circle/internal/eventstore/db"
	"github.com/nao1215/circle/internal/eventstore/migrations"
	"github.com/nao1215/circle/pkg/middleware"
	"github.com/nao1215/circle/pkg/migration"
)

// Server はイベントストアサービスのHTTPサーバー。
type Server struct {
	router  *gin.Engine
	cfg     Config
	db      *sql.DB
	queries *esdb.Queries
	log     *zap.Logger
	// now はイベント作成日時の補完に使う。
	now func() time.Time
}

// NewServer はデータベースを開いてマイグレーションを適用し、サーバーを生成する。
func NewServer(ctx context.Context, cfg Config, log *zap.Logger) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if cfg.DatabasePath == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	}
	if _, err := migration.Run(ctx, sqlDB, migrations.FS, ".", log); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	s := &Server{
		router:  gin.New(),
		cfg:     cfg,
		db:      sqlDB,
		queries: esdb.New(sqlDB),
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recovery(s.log))
	s.router.Use(gin.Logger())

	api := s.router.Group("/api/v1")
	{
		events := api.Group("/events")
		{
			// イベントの追記
			events.POST("", s.handleAppendEvent())
			// AggregateIDによるイベント取得（状態再構築用）
			events.GET("/aggregate/:aggregate_id", s.handleGetEventsByAggregateID())
			// イベントタイプによるイベント取得
			events.GET("/type/:event_type", s.handleGetEventsByType())
			// 日時指定によるイベント取得
			events.GET("/since", s.handleGetEventsSince())
			// Aggregateの最新バージョン取得
			events.GET("/aggregate/:aggregate_id/version", s.handleGetLatestVersion())
		}
	}

	s.router.GET("/health", func(c *gin.Context) {
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "eventstore"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "eventstore"})
	})
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされたら停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("イベントストアサービスを起動します", zap.String("addr", srv.Addr))
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// Close はデータベース接続を閉じる。
func (s *Server) Close() error {
	return s.db.Close()
}
