package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Rrens/classroom-live/internal/api/middleware"
	"github.com/Rrens/classroom-live/internal/security"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	manager := security.NewJWTManager("test-secret-key-for-testing-only", 15*time.Minute, time.Hour)
	auth := middleware.NewAuthMiddleware(manager)
	userID := uuid.New()
	token, err := manager.GenerateAccessToken(userID, "sam@example.com", "Sam")
	require.NoError(t, err)

	var seen uuid.UUID
	protected := auth.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = middleware.GetUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, userID, seen)
	})

	t.Run("query token only for websocket upgrades", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?access_token="+token, nil)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		req.Header.Set("Upgrade", "websocket")
		rec = httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestClassroomContext(t *testing.T) {
	r := chi.NewRouter()
	var slug string
	r.With(middleware.ClassroomContext).Get("/classrooms/{slug}", func(w http.ResponseWriter, r *http.Request) {
		slug, _ = middleware.GetClassroom(r.Context())
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/classrooms/Algebra", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "algebra", slug)
}
