package push

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voxlink/pkg/logger"
	"voxlink/pkg/push"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.Log = zap.NewNop()
	logger.Sugar = logger.Log.Sugar()
	os.Exit(m.Run())
}

type memTokenRepo struct {
	byUser map[string][]*push.Token
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{byUser: make(map[string][]*push.Token)}
}

func (r *memTokenRepo) Store(_ context.Context, t *push.Token) error {
	r.byUser[t.UserID] = append(r.byUser[t.UserID], t)
	return nil
}

func (r *memTokenRepo) GetByUserID(_ context.Context, userID string) ([]*push.Token, error) {
	return r.byUser[userID], nil
}

func (r *memTokenRepo) DeleteTokens(_ context.Context, userID string, tokens []string) error {
	gone := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		gone[t] = true
	}
	kept := r.byUser[userID][:0]
	for _, t := range r.byUser[userID] {
		if !gone[t.Token] {
			kept = append(kept, t)
		}
	}
	r.byUser[userID] = kept
	return nil
}

func newTestRouter(repo push.TokenRepository) *gin.Engine {
	h := NewHandler(push.NewService(&push.MockProvider{}, repo))
	router := gin.New()
	grp := router.Group("/push", func(c *gin.Context) { c.Set("user_id", "alice") })
	grp.POST("/tokens", h.RegisterToken)
	grp.DELETE("/tokens", h.UnregisterToken)
	return router
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRegisterToken_StoresForAuthenticatedUser(t *testing.T) {
	repo := newMemTokenRepo()
	router := newTestRouter(repo)

	w := doJSON(router, http.MethodPost, "/push/tokens",
		`{"token":"tok-1","type":"fcm","platform":"android"}`)
	require.Equal(t, http.StatusOK, w.Code)

	tokens, err := repo.GetByUserID(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "tok-1", tokens[0].Token)
	assert.Equal(t, push.TokenTypeFCM, tokens[0].Type)
	assert.NotZero(t, tokens[0].CreatedAt)
}

func TestRegisterToken_RejectsUnknownType(t *testing.T) {
	router := newTestRouter(newMemTokenRepo())

	w := doJSON(router, http.MethodPost, "/push/tokens",
		`{"token":"tok-1","type":"carrier-pigeon"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnregisterToken_RemovesOnlyNamedToken(t *testing.T) {
	repo := newMemTokenRepo()
	repo.Store(context.Background(), &push.Token{UserID: "alice", Token: "tok-1", Type: push.TokenTypeFCM})
	repo.Store(context.Background(), &push.Token{UserID: "alice", Token: "tok-2", Type: push.TokenTypeAPNs})
	router := newTestRouter(repo)

	w := doJSON(router, http.MethodDelete, "/push/tokens", `{"token":"tok-1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	tokens, err := repo.GetByUserID(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "tok-2", tokens[0].Token)
}

func TestRegisterToken_RequiresIdentity(t *testing.T) {
	h := NewHandler(push.NewService(&push.MockProvider{}, newMemTokenRepo()))
	router := gin.New()
	router.POST("/push/tokens", h.RegisterToken)

	w := doJSON(router, http.MethodPost, "/push/tokens", `{"token":"tok-1","type":"fcm"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
