package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// TestInternalAuth はInternalAuthミドルウェアを検証する。
func TestInternalAuth(t *testing.T) {
	t.Parallel()

	userToken, err := GenerateJWT("user-secret", "u1", "alice")
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}

	tests := []struct {
		name       string
		configured string
		header     string
		bearer     string
		wantStatus int
	}{
		{name: "一致するトークンは通過すること", configured: "svc-secret", header: "svc-secret", wantStatus: http.StatusOK},
		{name: "ヘッダーがない場合は403になること", configured: "svc-secret", wantStatus: http.StatusForbidden},
		{name: "異なるトークンは403になること", configured: "svc-secret", header: "guess", wantStatus: http.StatusForbidden},
		{name: "ユーザーのJWTだけでは403になること", configured: "svc-secret", bearer: userToken, wantStatus: http.StatusForbidden},
		{name: "トークン未設定の場合は空ヘッダーでも403になること", configured: "", header: "", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router := gin.New()
			router.Use(InternalAuth(tt.configured))
			router.POST("/internal", func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/internal", nil)
			if tt.header != "" {
				req.Header.Set(HeaderInternalToken, tt.header)
			}
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("ステータスコード = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
