package eventstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nao1215/circle/pkg/event"
	"github.com/nao1215/circle/pkg/httpclient"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestServer はインメモリSQLiteでサーバーを構築する。
func setupTestServer(t *testing.T) *Server {
	t.Helper()

	s, err := NewServer(t.Context(), Config{Port: "0", DatabasePath: ":memory:"}, zap.NewNop())
	if err != nil {
		t.Fatalf("サーバーの生成に失敗: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
func doRequest(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeEvents(t *testing.T, w *httptest.ResponseRecorder) []StoredEvent {
	t.Helper()
	var events []StoredEvent
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v, body = %s", err, w.Body.String())
	}
	return events
}

func mustEvent(t *testing.T, aggregateID string, typ event.Type, data any) *event.Event {
	t.Helper()
	e, err := event.New(aggregateID, event.AggregateTypeUser, typ, data)
	if err != nil {
		t.Fatalf("event.New()でエラーが発生: %v", err)
	}
	return e
}

// TestHealthCheck はヘルスチェックエンドポイントを検証する。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	w := doRequest(s.router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
}

// TestAppendEvent はイベント追記とバージョン採番を検証する。
func TestAppendEvent(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	aggregateID := event.FollowAggregateID("u1", "u2")
	data := event.UserFollowedData{FollowerID: "u1", FollowingID: "u2"}

	for i, typ := range []event.Type{event.TypeUserFollowed, event.TypeUserUnfollowed, event.TypeUserFollowed} {
		w := doRequest(s.router, http.MethodPost, "/api/v1/events", mustEvent(t, aggregateID, typ, data))
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, body = %s", w.Code, w.Body.String())
		}
		var resp appendResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("レスポンスのパースに失敗: %v", err)
		}
		if resp.Version != int64(i+1) {
			t.Errorf("Version = %d, want %d", resp.Version, i+1)
		}
	}

	t.Run("別のAggregateは1から採番されること", func(t *testing.T) {
		w := doRequest(s.router, http.MethodPost, "/api/v1/events", mustEvent(t, "other", event.TypeUserFollowed, data))
		var resp appendResponse
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Version != 1 {
			t.Errorf("Version = %d, want 1", resp.Version)
		}
	})

	t.Run("同じIDのイベントは409になること", func(t *testing.T) {
		e := mustEvent(t, "dup", event.TypeUserFollowed, data)
		if w := doRequest(s.router, http.MethodPost, "/api/v1/events", e); w.Code != http.StatusCreated {
			t.Fatalf("1回目のステータスコード = %d", w.Code)
		}
		w := doRequest(s.router, http.MethodPost, "/api/v1/events", e)
		if w.Code != http.StatusConflict {
			t.Fatalf("2回目のステータスコード = %d, want %d", w.Code, http.StatusConflict)
		}
		if !strings.Contains(w.Body.String(), "イベントが既に存在します") {
			t.Errorf("body = %s, want 重複イベントのメッセージ", w.Body.String())
		}
	})

	t.Run("IDと作成日時は省略できること", func(t *testing.T) {
		body := map[string]any{
			"aggregate_id":   "minimal",
			"aggregate_type": "User",
			"event_type":     "ProfileViewed",
		}
		w := doRequest(s.router, http.MethodPost, "/api/v1/events", body)
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, body = %s", w.Code, w.Body.String())
		}
		events := decodeEvents(t, doRequest(s.router, http.MethodGet, "/api/v1/events/aggregate/minimal", nil))
		if len(events) != 1 || events[0].ID == "" || string(events[0].Data) != "{}" || events[0].CreatedAt.IsZero() {
			t.Errorf("events = %+v", events)
		}
	})
}

// TestAppendEventValidation は不正なリクエストが400になることを検証する。
func TestAppendEventValidation(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	tests := []struct {
		name string
		body any
	}{
		{name: "aggregate_idなし", body: map[string]any{"aggregate_type": "User", "event_type": "UserFollowed"}},
		{name: "event_typeなし", body: map[string]any{"aggregate_id": "a", "aggregate_type": "User"}},
		{name: "JSONでない", body: "not-json"},
		{name: "UserFollowedのdataにfollower_idがない", body: map[string]any{
			"aggregate_id": "a", "aggregate_type": "User", "event_type": "UserFollowed",
			"data": map[string]string{"following_id": "u2"},
		}},
		{name: "NotificationSentのdataの型が不正", body: map[string]any{
			"aggregate_id": "n1", "aggregate_type": "Notification", "event_type": "NotificationSent",
			"data": []string{"n1"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(s.router, http.MethodPost, "/api/v1/events", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

// TestQueryEvents はAggregate・タイプ・日時による取得を検証する。
func TestQueryEvents(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	ab := event.UserFollowedData{FollowerID: "a", FollowingID: "b"}
	seed := []struct {
		aggregateID string
		typ         event.Type
		data        any
		at          time.Time
	}{
		{"follow-a-b", event.TypeUserFollowed, ab, base},
		{"n1", event.TypeNotificationSent, event.NotificationSentData{NotificationID: "n1", UserID: "b"}, base.Add(time.Second)},
		{"follow-a-b", event.TypeUserUnfollowed, event.UserUnfollowedData(ab), base.Add(2 * time.Second)},
		{"follow-c-b", event.TypeUserFollowed, event.UserFollowedData{FollowerID: "c", FollowingID: "b"}, base.Add(3 * time.Second)},
	}
	for _, sd := range seed {
		e := mustEvent(t, sd.aggregateID, sd.typ, sd.data)
		e.CreatedAt = sd.at
		if w := doRequest(s.router, http.MethodPost, "/api/v1/events", e); w.Code != http.StatusCreated {
			t.Fatalf("追記のステータスコード = %d, body = %s", w.Code, w.Body.String())
		}
	}

	t.Run("Aggregateのイベントがバージョン順に返ること", func(t *testing.T) {
		events := decodeEvents(t, doRequest(s.router, http.MethodGet, "/api/v1/events/aggregate/follow-a-b", nil))
		if len(events) != 2 {
			t.Fatalf("件数 = %d, want 2", len(events))
		}
		if events[0].EventType != event.TypeUserFollowed || events[1].EventType != event.TypeUserUnfollowed {
			t.Errorf("順序 = %s, %s", events[0].EventType, events[1].EventType)
		}
		if events[0].Version != 1 || events[1].Version != 2 {
			t.Errorf("Version = %d, %d", events[0].Version, events[1].Version)
		}
		if !events[0].CreatedAt.Equal(base) {
			t.Errorf("CreatedAt = %v, want %v", events[0].CreatedAt, base)
		}
	})

	t.Run("存在しないAggregateは空配列を返すこと", func(t *testing.T) {
		w := doRequest(s.router, http.MethodGet, "/api/v1/events/aggregate/none", nil)
		if w.Code != http.StatusOK || w.Body.String() != "[]" {
			t.Errorf("レスポンス = %d %s, want 200 []", w.Code, w.Body.String())
		}
	})

	t.Run("タイプで絞り込めること", func(t *testing.T) {
		events := decodeEvents(t, doRequest(s.router, http.MethodGet, "/api/v1/events/type/UserFollowed", nil))
		if len(events) != 2 || events[0].AggregateID != "follow-a-b" || events[1].AggregateID != "follow-c-b" {
			t.Errorf("events = %+v", events)
		}
	})

	t.Run("指定日時より後のイベントが返ること", func(t *testing.T) {
		path := "/api/v1/events/since?since=" + url.QueryEscape(base.Add(time.Second).Format(time.RFC3339))
		events := decodeEvents(t, doRequest(s.router, http.MethodGet, path, nil))
		if len(events) != 2 || events[0].EventType != event.TypeUserUnfollowed {
			t.Errorf("events = %+v", events)
		}
	})

	t.Run("sinceが不正な場合は400になること", func(t *testing.T) {
		w := doRequest(s.router, http.MethodGet, "/api/v1/events/since?since=yesterday", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("最新バージョンが返ること", func(t *testing.T) {
		w := doRequest(s.router, http.MethodGet, "/api/v1/events/aggregate/follow-a-b/version", nil)
		var resp struct {
			Version int64 `json:"version"`
		}
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Version != 2 {
			t.Errorf("Version = %d, want 2", resp.Version)
		}
		w = doRequest(s.router, http.MethodGet, "/api/v1/events/aggregate/none/version", nil)
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Version != 0 {
			t.Errorf("Version = %d, want 0", resp.Version)
		}
	})
}

// TestAppendViaHTTPClient はsocialサービスと同じクライアントで追記できることを検証する。
func TestAppendViaHTTPClient(t *testing.T) {
	t.Parallel()

	s := setupTestServer(t)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	client := httpclient.New(ts.URL)
	e := mustEvent(t, "n-42", event.TypeNotificationSent, event.NotificationSentData{NotificationID: "n-42", UserID: "u1", URL: "/profile/a"})
	var resp appendResponse
	if err := client.PostJSON(t.Context(), "/api/v1/events", e, &resp); err != nil {
		t.Fatalf("PostJSON()でエラーが発生: %v", err)
	}
	if resp.ID != e.ID || resp.Version != 1 {
		t.Errorf("resp = %+v", resp)
	}

	var statusErr *httpclient.StatusError
	if err := client.PostJSON(t.Context(), "/api/v1/events", e, nil); !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusConflict {
		t.Errorf("重複追記のerr = %v, want 409 StatusError", err)
	}

	var stored []StoredEvent
	if err := client.GetJSON(t.Context(), "/api/v1/events/aggregate/n-42", &stored); err != nil {
		t.Fatalf("GetJSON()でエラーが発生: %v", err)
	}
	data, err := event.DecodeData[event.NotificationSentData](&stored[0].Event)
	if err != nil || data.UserID != "u1" {
		t.Errorf("DecodeData() = %+v, %v", data, err)
	}
}

// TestConflictKind は制約違反の種類の判定を検証する。
func TestConflictKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code int
		want appendConflict
	}{
		{name: "主キー違反は重複イベント", code: sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, want: duplicateEvent},
		{name: "一意インデックス違反はバージョン競合", code: sqlite3.SQLITE_CONSTRAINT_UNIQUE, want: versionConflict},
		{name: "NOT NULL違反はどちらでもない", code: sqlite3.SQLITE_CONSTRAINT_NOTNULL, want: noConflict},
		{name: "制約以外のエラーはどちらでもない", code: sqlite3.SQLITE_BUSY, want: noConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := conflictKind(tt.code); got != tt.want {
				t.Errorf("conflictKind(%d) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}

	if got := classifyAppendError(errors.New("other")); got != noConflict {
		t.Errorf("classifyAppendError(非sqliteエラー) = %v, want noConflict", got)
	}
}
