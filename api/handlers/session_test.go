package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rehearsed/rehearsed/api"
	"github.com/rehearsed/rehearsed/session"
)

func setupSessionHandler(t *testing.T) *SessionHandler {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := session.NewStore(db, zap.NewNop())
	require.NoError(t, store.AutoMigrate(context.Background()))
	return NewSessionHandler(store, "Rehearsed", zap.NewNop())
}

func TestSession_CreateWithExplicitID(t *testing.T) {
	h := setupSessionHandler(t)

	w := postJSON(t, h.HandleCreate, "/session/create", api.CreateSessionRequest{UserID: "u1", SessionID: "s1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ack api.SessionAck
	dataAs(t, w, &ack)
	assert.Equal(t, "u1", ack.UserID)
	assert.Equal(t, "s1", ack.SessionID)
	assert.Zero(t, ack.Events)

	// 重复创建返回同一会话
	w = postJSON(t, h.HandleCreate, "/session/create", api.CreateSessionRequest{UserID: "u1", SessionID: "s1"})
	require.Equal(t, http.StatusCreated, w.Code)
	dataAs(t, w, &ack)
	assert.Equal(t, "s1", ack.SessionID)
}

func TestSession_CreateGeneratesID(t *testing.T) {
	h := setupSessionHandler(t)

	w := postJSON(t, h.HandleCreate, "/session/create", api.CreateSessionRequest{UserID: "u1"})
	require.Equal(t, http.StatusCreated, w.Code)
	var ack api.SessionAck
	dataAs(t, w, &ack)
	_, err := uuid.Parse(ack.SessionID)
	assert.NoError(t, err)
}

func TestSession_CreateRequiresUser(t *testing.T) {
	h := setupSessionHandler(t)

	w := postJSON(t, h.HandleCreate, "/session/create", api.CreateSessionRequest{SessionID: "s1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSession_ListByUser(t *testing.T) {
	h := setupSessionHandler(t)
	for _, id := range []string{"a", "b"} {
		require.Equal(t, http.StatusCreated, postJSON(t, h.HandleCreate, "/session/create", api.CreateSessionRequest{UserID: "u1", SessionID: id}).Code)
	}
	require.Equal(t, http.StatusCreated, postJSON(t, h.HandleCreate, "/session/create", api.CreateSessionRequest{UserID: "u2", SessionID: "c"}).Code)

	w := httptest.NewRecorder()
	h.HandleList(w, httptest.NewRequest(http.MethodGet, "/session/list?user_id=u1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var list []api.SessionInfo
	dataAs(t, w, &list)
	ids := make([]string, 0, len(list))
	for _, s := range list {
		assert.Equal(t, "u1", s.UserID)
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestSession_ListRequiresUser(t *testing.T) {
	h := setupSessionHandler(t)

	w := httptest.NewRecorder()
	h.HandleList(w, httptest.NewRequest(http.MethodGet, "/session/list", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.HandleList(w, httptest.NewRequest(http.MethodGet, "/session/list?user_id=nobody", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []api.SessionInfo
	dataAs(t, w, &list)
	assert.Empty(t, list)
}
