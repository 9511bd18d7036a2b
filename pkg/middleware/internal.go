package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderInternalToken はサービス間APIの認証トークンを渡すHTTPヘッダーキー。
const HeaderInternalToken = "X-Internal-Token"

// InternalAuth はサービス間API用の認証ミドルウェア。
// X-Internal-Tokenヘッダーがtokenと一致しないリクエストは403で拒否する。
// ユーザーのJWTはここでは認証情報として扱わない。
func InternalAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderInternalToken)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "内部APIへのアクセス権がありません"})
			return
		}
		c.Next()
	}
}
