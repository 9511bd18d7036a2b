package eventstore

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	esdb "github.com/nao1215/circle/internal/eventstore/db"
	"github.com/nao1215/circle/pkg/event"
)

// StoredEvent は永続化済みのイベント。Aggregate内の連番を持つ。
type StoredEvent struct {
	event.Event
	// Version はAggregateごとに1から始まる連番。
	Version int64 `json:"version"`
}

// appendResponse はイベント追記のレスポンス。
type appendResponse struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

func toStoredEvents(rows []esdb.Event) []StoredEvent {
	events := make([]StoredEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, StoredEvent{
			Event: event.Event{
				ID:            r.ID,
				AggregateID:   r.AggregateID,
				AggregateType: event.AggregateType(r.AggregateType),
				EventType:     event.Type(r.EventType),
				Data:          json.RawMessage(r.Data),
				CreatedAt:     r.CreatedAt.UTC(),
			},
			Version: r.Version,
		})
	}
	return events
}

// maxAppendAttempts はバージョン採番が競合した場合の試行回数。
const maxAppendAttempts = 3

// errMissingField は既知のイベントタイプで必須のデータ項目が欠けていることを表す。
var errMissingField = errors.New("dataに必須の項目がありません")

// appendConflict は追記時の制約違反の種類。
type appendConflict int

const (
	noConflict appendConflict = iota
	// duplicateEvent は同じIDのイベントが既にある。
	duplicateEvent
	// versionConflict は同じAggregateへの同時追記で同じバージョンを採番した。
	versionConflict
)

// conflictKind は拡張エラーコードを制約違反の種類に変換する。
func conflictKind(code int) appendConflict {
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return duplicateEvent
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return versionConflict
	}
	return noConflict
}

func classifyAppendError(err error) appendConflict {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return noConflict
	}
	return conflictKind(se.Code())
}

// validateData は既知のイベントタイプについてデータの必須項目を検証する。
// 未知のタイプはJSONであれば受け付ける。
func validateData(e *event.Event) error {
	switch e.EventType {
	case event.TypeUserFollowed:
		d, err := event.DecodeData[event.UserFollowedData](e)
		if err != nil {
			return err
		}
		if d.FollowerID == "" || d.FollowingID == "" {
			return errMissingField
		}
	case event.TypeUserUnfollowed:
		d, err := event.DecodeData[event.UserUnfollowedData](e)
		if err != nil {
			return err
		}
		if d.FollowerID == "" || d.FollowingID == "" {
			return errMissingField
		}
	case event.TypeNotificationSent:
		d, err := event.DecodeData[event.NotificationSentData](e)
		if err != nil {
			return err
		}
		if d.NotificationID == "" || d.UserID == "" {
			return errMissingField
		}
	}
	return nil
}

// handleAppendEvent はイベントを追記するハンドラ。
// バージョンはAggregate内の最大値+1を1文で採番する。
func (s *Server) handleAppendEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req event.Event
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です"})
			return
		}
		if req.AggregateID == "" || req.AggregateType == "" || req.EventType == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "aggregate_id, aggregate_type, event_typeは必須です"})
			return
		}
		if len(req.Data) == 0 {
			req.Data = json.RawMessage("{}")
		}
		if !json.Valid(req.Data) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dataはJSONで指定してください"})
			return
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		if req.CreatedAt.IsZero() {
			req.CreatedAt = s.now()
		}

		if err := validateData(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		params := esdb.AppendEventParams{
			ID:            req.ID,
			AggregateID:   req.AggregateID,
			AggregateType: string(req.AggregateType),
			EventType:     string(req.EventType),
			Data:          string(req.Data),
			CreatedAt:     req.CreatedAt.UTC().Truncate(time.Millisecond),
		}
		var (
			version int64
			err     error
		)
		for range maxAppendAttempts {
			version, err = s.queries.AppendEvent(c.Request.Context(), params)
			if err == nil || classifyAppendError(err) != versionConflict {
				break
			}
			s.log.Debug("バージョンが競合したため追記を再試行", zap.String("aggregate_id", req.AggregateID))
		}
		if err != nil {
			switch classifyAppendError(err) {
			case duplicateEvent:
				c.JSON(http.StatusConflict, gin.H{"error": "イベントが既に存在します"})
			case versionConflict:
				s.log.Warn("バージョンの競合が解消しない", zap.String("aggregate_id", req.AggregateID))
				c.JSON(http.StatusConflict, gin.H{"error": "バージョンが競合しました。再試行してください"})
			default:
				s.log.Error("イベントの追記に失敗", zap.String("aggregate_id", req.AggregateID), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの追記に失敗しました"})
			}
			return
		}

		s.log.Debug("イベントを追記",
			zap.String("event_type", string(req.EventType)),
			zap.String("aggregate_id", req.AggregateID),
			zap.Int64("version", version))
		c.JSON(http.StatusCreated, appendResponse{ID: req.ID, Version: version})
	}
}

// handleGetEventsByAggregateID はAggregateのイベントをバージョン順に返すハンドラ。
func (s *Server) handleGetEventsByAggregateID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := s.queries.ListEventsByAggregateID(c.Request.Context(), c.Param("aggregate_id"))
		if err != nil {
			s.log.Error("イベントの取得に失敗", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toStoredEvents(rows))
	}
}

// handleGetEventsByType は指定タイプのイベントを古い順に返すハンドラ。
func (s *Server) handleGetEventsByType() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := s.queries.ListEventsByType(c.Request.Context(), c.Param("event_type"))
		if err != nil {
			s.log.Error("イベントの取得に失敗", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toStoredEvents(rows))
	}
}

// handleGetEventsSince はsinceクエリ（RFC3339）より後のイベントを返すハンドラ。
func (s *Server) handleGetEventsSince() gin.HandlerFunc {
	return func(c *gin.Context) {
		since, err := time.Parse(time.RFC3339Nano, c.Query("since"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sinceはRFC3339形式で指定してください"})
			return
		}
		rows, err := s.queries.ListEventsSince(c.Request.Context(), since.UTC().Truncate(time.Millisecond))
		if err != nil {
			s.log.Error("イベントの取得に失敗", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toStoredEvents(rows))
	}
}

// handleGetLatestVersion はAggregateの最新バージョンを返す。イベントがなければ0。
func (s *Server) handleGetLatestVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		aggregateID := c.Param("aggregate_id")
		version, err := s.queries.GetLatestVersion(c.Request.Context(), aggregateID)
		if err != nil {
			s.log.Error("バージョンの取得に失敗", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "バージョンの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"aggregate_id": aggregateID, "version": version})
	}
}
