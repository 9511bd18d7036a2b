package social

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/circle/internal/follow"
	"github.com/nao1215/circle/internal/notification"
	"github.com/nao1215/circle/pkg/middleware"
)

// usernamePattern はユーザー名として受け付ける形式。
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

// respondError はドメインエラーをHTTPステータスに変換して返す。
// 想定外のエラーはログに記録し、詳細を隠したメッセージを返す。
func (s *Server) respondError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, follow.ErrNotFound), errors.Is(err, notification.ErrNotFound), errors.Is(err, notification.ErrRecipientNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, follow.ErrInvalidOperation), errors.Is(err, notification.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, notification.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		s.log.Error(message,
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}

// requireUserID は認証済みユーザーのIDを返す。取得できない場合は401を返してfalseとなる。
func requireUserID(c *gin.Context) (string, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
		return "", false
	}
	return userID, true
}

// devTokenRequest は開発用トークン発行リクエストのJSON構造。
type devTokenRequest struct {
	// Username はログインするユーザー名。存在しなければ作成する。
	Username string `json:"username" binding:"required"`
	// DisplayName は新規作成時の表示名。
	DisplayName string `json:"display_name"`
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// 本番環境では DEV_TOKEN_ENABLED=false で無効化すること。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}
		if !usernamePattern.MatchString(req.Username) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ユーザー名は英数字とアンダースコアの32文字以内で指定してください"})
			return
		}

		user, err := s.users.Ensure(c.Request.Context(), req.Username, req.DisplayName)
		if err != nil {
			s.respondError(c, err, "ユーザーの作成に失敗しました")
			return
		}

		token, err := middleware.GenerateJWT(s.cfg.JWTSecret, user.ID, user.Username)
		if err != nil {
			s.respondError(c, err, "トークン生成に失敗しました")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":    token,
			"user_id":  user.ID,
			"username": user.Username,
		})
	}
}

// handleMe は認証済みユーザー自身の情報を返すハンドラ。
func (s *Server) handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		user, err := s.users.ResolveByID(ctx, userID)
		if err != nil {
			s.respondError(c, err, "ユーザー情報の取得に失敗しました")
			return
		}
		counts, err := s.follows.Counts(ctx, user.Username)
		if err != nil {
			s.respondError(c, err, "フォロー数の取得に失敗しました")
			return
		}
		unread, err := s.notifications.UnreadCount(ctx, userID)
		if err != nil {
			s.respondError(c, err, "未読数の取得に失敗しました")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user":         user,
			"counts":       counts,
			"unread_count": unread,
		})
	}
}

// handleProfile は指定ユーザーのプロフィールと閲覧者との関係を返すハンドラ。
func (s *Server) handleProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		viewerID, ok := requireUserID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		username := c.Param("username")

		user, err := s.users.ResolveByUsername(ctx, username)
		if err != nil {
			s.respondError(c, err, "ユーザー情報の取得に失敗しました")
			return
		}
		counts, err := s.follows.Counts(ctx, username)
		if err != nil {
			s.respondError(c, err, "フォロー数の取得に失敗しました")
			return
		}
		relation, err := s.follows.Relation(ctx, viewerID, username)
		if err != nil {
			s.respondError(c, err, "フォロー関係の取得に失敗しました")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user":     user,
			"counts":   counts,
			"relation": relation,
		})
	}
}

// handleFollow は指定ユーザーをフォローするハンドラ。既にフォロー済みでも成功する。
func (s *Server) handleFollow() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}
		if err := s.follows.Follow(c.Request.Context(), userID, c.Param("username")); err != nil {
			s.respondError(c, err, "フォローに失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "フォローしました"})
	}
}

// handleUnfollow は指定ユーザーのフォローを解除するハンドラ。フォローしていなくても成功する。
func (s *Server) handleUnfollow() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}
		if err := s.follows.Unfollow(c.Request.Context(), userID, c.Param("username")); err != nil {
			s.respondError(c, err, "フォロー解除に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "フォローを解除しました"})
	}
}

// handleListFollowing は指定ユーザーのフォロー一覧を返すハンドラ。
func (s *Server) handleListFollowing() gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := s.follows.ListFollowing(c.Request.Context(), c.Param("username"))
		if err != nil {
			s.respondError(c, err, "フォロー一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, users)
	}
}

// handleListFollowers は指定ユーザーのフォロワー一覧を返すハンドラ。
func (s *Server) handleListFollowers() gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := s.follows.ListFollowers(c.Request.Context(), c.Param("username"))
		if err != nil {
			s.respondError(c, err, "フォロワー一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, users)
	}
}

// parsePage はlimit・offsetクエリパラメータを読み取る。
func parsePage(c *gin.Context) (notification.Page, bool) {
	var page notification.Page
	for _, p := range []struct {
		key string
		dst *int
	}{{"limit", &page.Limit}, {"offset", &page.Offset}} {
		raw := c.Query(p.key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return notification.Page{}, false
		}
		*p.dst = v
	}
	return page, true
}

// handleListNotifications は認証済みユーザーの通知一覧を新しい順に返すハンドラ。
func (s *Server) handleListNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}
		page, ok := parsePage(c)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limitとoffsetは0以上の整数で指定してください"})
			return
		}

		list, err := s.notifications.ListForUser(c.Request.Context(), userID, page)
		if err != nil {
			s.respondError(c, err, "通知一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}
		list, err := s.notifications.ListUnread(c.Request.Context(), userID)
		if err != nil {
			s.respondError(c, err, "未読通知一覧の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// handleUnreadCount は未読通知数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}
		count, err := s.notifications.UnreadCount(c.Request.Context(), userID)
		if err != nil {
			s.respondError(c, err, "未読数の取得に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。ボディは返さない。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}
		if err := s.notifications.MarkAllRead(c.Request.Context(), userID); err != nil {
			s.respondError(c, err, "全通知の既読処理に失敗しました")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := requireUserID(c)
		if !ok {
			return
		}
		if err := s.notifications.MarkRead(c.Request.Context(), userID, c.Param("id")); err != nil {
			s.respondError(c, err, "通知の既読処理に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// createNotificationRequest は通知作成リクエストのJSON構造。
type createNotificationRequest struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id" binding:"required"`
	// Content は通知本文。
	Content string `json:"content" binding:"required"`
	// URL は遷移先のパス。
	URL string `json:"url"`
}

// handleCreateNotification は通知を作成して配信するハンドラ。
// 配信の成否に関わらず保存した通知を返す。
func (s *Server) handleCreateNotification() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createNotificationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}

		n, err := s.notifications.Notify(c.Request.Context(), req.UserID, req.Content, req.URL)
		if err != nil {
			s.respondError(c, err, "通知の作成に失敗しました")
			return
		}
		c.JSON(http.StatusCreated, n)
	}
}

// handleHealth はヘルスチェックのハンドラ。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "social"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "social"})
	}
}
