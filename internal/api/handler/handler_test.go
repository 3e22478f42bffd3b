package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Rrens/classroom-live/internal/api/handler"
	"github.com/Rrens/classroom-live/internal/api/middleware"
	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testUserID = uuid.MustParse("7b1f6a6e-2c1d-4a8e-9a57-3f0c2b7d9e11")

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) List(ctx context.Context, userID uuid.UUID, slug string, status *domain.SessionStatus) ([]domain.LiveSession, error) {
	args := m.Called(ctx, userID, slug, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.LiveSession), args.Error(1)
}

func (m *MockSessionService) Get(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID) (*domain.LiveSession, error) {
	args := m.Called(ctx, userID, slug, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LiveSession), args.Error(1)
}

func (m *MockSessionService) Create(ctx context.Context, userID uuid.UUID, slug string, input domain.SessionCreate) (*domain.LiveSession, error) {
	args := m.Called(ctx, userID, slug, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LiveSession), args.Error(1)
}

func (m *MockSessionService) Update(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, input domain.SessionUpdate) (*domain.LiveSession, error) {
	args := m.Called(ctx, userID, slug, sessionID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LiveSession), args.Error(1)
}

func (m *MockSessionService) Delete(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, force bool) error {
	args := m.Called(ctx, userID, slug, sessionID, force)
	return args.Error(0)
}

func (m *MockSessionService) Sync(ctx context.Context, userID uuid.UUID, slug string) (*domain.SyncResult, error) {
	args := m.Called(ctx, userID, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SyncResult), args.Error(1)
}

type MockTokenService struct {
	mock.Mock
}

func (m *MockTokenService) Issue(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, req domain.TokenRequest) (*domain.TokenCredential, error) {
	args := m.Called(ctx, userID, slug, sessionID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TokenCredential), args.Error(1)
}

func (m *MockTokenService) Refresh(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, req domain.TokenRequest) (*domain.TokenCredential, error) {
	args := m.Called(ctx, userID, slug, sessionID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TokenCredential), args.Error(1)
}

type MockChatService struct {
	mock.Mock
}

func (m *MockChatService) History(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, limit, offset int) ([]domain.ChatMessage, error) {
	args := m.Called(ctx, userID, slug, sessionID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ChatMessage), args.Error(1)
}

func (m *MockChatService) Send(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID, input domain.MessageCreate) (*domain.ChatMessage, error) {
	args := m.Called(ctx, userID, slug, sessionID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChatMessage), args.Error(1)
}

func (m *MockChatService) Subscribe(ctx context.Context, userID uuid.UUID, slug string, sessionID uuid.UUID) (<-chan domain.MessageEvent, func(), error) {
	args := m.Called(ctx, userID, slug, sessionID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(<-chan domain.MessageEvent), args.Get(1).(func()), args.Error(2)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// serve routes a single request through chi with an authenticated caller
func serve(t *testing.T, method, pattern, target string, body any, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	r := chi.NewRouter()
	r.Route("/classrooms/{slug}", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				ctx := context.WithValue(req.Context(), middleware.UserIDKey, testUserID)
				next.ServeHTTP(w, req.WithContext(ctx))
			})
		})
		r.Use(middleware.ClassroomContext)
		r.Method(method, pattern, h)
	})

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()

	handler.HealthCheck(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"status":"ok"}`, string(env.Data))
}

func TestReadyCheck(t *testing.T) {
	t.Run("all dependencies up", func(t *testing.T) {
		h := handler.ReadyCheck(map[string]handler.Pinger{
			"database": pingerFunc(func(context.Context) error { return nil }),
			"redis":    nil,
		})
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("database down", func(t *testing.T) {
		h := handler.ReadyCheck(map[string]handler.Pinger{
			"database": pingerFunc(func(context.Context) error { return errors.New("refused") }),
		})
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		env := decodeEnvelope(t, rec)
		assert.Equal(t, "database not ready", env.Error.Message)
	})
}

func TestSessionHandler_List(t *testing.T) {
	svc := new(MockSessionService)
	h := handler.NewSessionHandler(svc)

	live := domain.StatusLive
	sessionID := uuid.New()
	svc.On("List", mock.Anything, testUserID, "algebra", &live).
		Return([]domain.LiveSession{{ID: sessionID, Title: "Fractions", Status: domain.StatusLive}}, nil)

	rec := serve(t, http.MethodGet, "/sessions", "/classrooms/Algebra/sessions?status=live", nil, h.List)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	var sessions []domain.LiveSession
	require.NoError(t, json.Unmarshal(env.Data, &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, sessionID, sessions[0].ID)
	svc.AssertExpectations(t)
}

func TestSessionHandler_Create(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := new(MockSessionService)
		h := handler.NewSessionHandler(svc)

		startsAt := time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC)
		input := domain.SessionCreate{Title: "Fractions", StartsAt: &startsAt}
		svc.On("Create", mock.Anything, testUserID, "algebra", mock.MatchedBy(func(in domain.SessionCreate) bool {
			return in.Title == "Fractions" && in.StartsAt.Equal(startsAt)
		})).Return(&domain.LiveSession{ID: uuid.New(), Title: "Fractions", Status: domain.StatusScheduled}, nil)

		rec := serve(t, http.MethodPost, "/sessions", "/classrooms/algebra/sessions", input, h.Create)

		assert.Equal(t, http.StatusCreated, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("missing title fails validation before the service", func(t *testing.T) {
		svc := new(MockSessionService)
		h := handler.NewSessionHandler(svc)

		rec := serve(t, http.MethodPost, "/sessions", "/classrooms/algebra/sessions",
			map[string]any{"starts_at": "2026-05-04T11:00:00Z"}, h.Create)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		env := decodeEnvelope(t, rec)
		assert.Equal(t, domain.CodeValidation, env.Error.Code)
		assert.Contains(t, env.Error.Fields, "Title")
		svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("non host is forbidden", func(t *testing.T) {
		svc := new(MockSessionService)
		h := handler.NewSessionHandler(svc)

		svc.On("Create", mock.Anything, testUserID, "algebra", mock.Anything).
			Return(nil, fmt.Errorf("%w: only hosts can schedule sessions", domain.ErrPermission))

		rec := serve(t, http.MethodPost, "/sessions", "/classrooms/algebra/sessions",
			map[string]any{"title": "Fractions", "starts_at": "2026-05-04T11:00:00Z"}, h.Create)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		env := decodeEnvelope(t, rec)
		assert.Equal(t, domain.CodePermission, env.Error.Code)
	})
}

func TestSessionHandler_Update(t *testing.T) {
	svc := new(MockSessionService)
	h := handler.NewSessionHandler(svc)

	sessionID := uuid.New()
	svc.On("Update", mock.Anything, testUserID, "algebra", sessionID, mock.MatchedBy(func(in domain.SessionUpdate) bool {
		return in.Status != nil && *in.Status == domain.StatusEnded && in.Title == nil
	})).Return(nil, fmt.Errorf("%w: cannot move session from cancelled to ended", domain.ErrConflict))

	rec := serve(t, http.MethodPatch, "/sessions/{sessionID}", "/classrooms/algebra/sessions/"+sessionID.String(),
		map[string]any{"status": "ended"}, h.Update)

	assert.Equal(t, http.StatusConflict, rec.Code)
	svc.AssertExpectations(t)
}

func TestSessionHandler_Update_RejectsUnknownStatus(t *testing.T) {
	svc := new(MockSessionService)
	h := handler.NewSessionHandler(svc)

	sessionID := uuid.New()
	rec := serve(t, http.MethodPatch, "/sessions/{sessionID}", "/classrooms/algebra/sessions/"+sessionID.String(),
		map[string]any{"status": "paused"}, h.Update)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionHandler_Get(t *testing.T) {
	t.Run("invalid id", func(t *testing.T) {
		h := handler.NewSessionHandler(new(MockSessionService))
		rec := serve(t, http.MethodGet, "/sessions/{sessionID}", "/classrooms/algebra/sessions/nope", nil, h.Get)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing session", func(t *testing.T) {
		svc := new(MockSessionService)
		h := handler.NewSessionHandler(svc)
		sessionID := uuid.New()
		svc.On("Get", mock.Anything, testUserID, "algebra", sessionID).
			Return(nil, fmt.Errorf("%w: session", domain.ErrNotFound))

		rec := serve(t, http.MethodGet, "/sessions/{sessionID}", "/classrooms/algebra/sessions/"+sessionID.String(), nil, h.Get)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		env := decodeEnvelope(t, rec)
		assert.Equal(t, domain.CodeNotFound, env.Error.Code)
	})
}

func TestSessionHandler_Delete(t *testing.T) {
	svc := new(MockSessionService)
	h := handler.NewSessionHandler(svc)

	sessionID := uuid.New()
	svc.On("Delete", mock.Anything, testUserID, "algebra", sessionID, true).Return(nil)

	rec := serve(t, http.MethodDelete, "/sessions/{sessionID}",
		"/classrooms/algebra/sessions/"+sessionID.String()+"?force=true", nil, h.Delete)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	svc.AssertExpectations(t)
}

func TestSessionHandler_Sync(t *testing.T) {
	svc := new(MockSessionService)
	h := handler.NewSessionHandler(svc)

	svc.On("Sync", mock.Anything, testUserID, "algebra").Return(&domain.SyncResult{Activated: 2, Ended: 1}, nil)

	rec := serve(t, http.MethodPost, "/sessions/sync", "/classrooms/algebra/sessions/sync", nil, h.Sync)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.JSONEq(t, `{"activated":2,"ended":1}`, string(env.Data))
}

func TestTokenHandler_Issue(t *testing.T) {
	t.Run("empty body is accepted", func(t *testing.T) {
		svc := new(MockTokenService)
		h := handler.NewTokenHandler(svc)

		sessionID := uuid.New()
		svc.On("Issue", mock.Anything, testUserID, "algebra", sessionID, domain.TokenRequest{}).
			Return(&domain.TokenCredential{Token: "jwt", RoomName: "session-" + sessionID.String(), SessionID: sessionID}, nil)

		rec := serve(t, http.MethodPost, "/sessions/{sessionID}/token", "/classrooms/algebra/sessions/"+sessionID.String()+"/token", nil, h.Issue)

		assert.Equal(t, http.StatusOK, rec.Code)
		env := decodeEnvelope(t, rec)
		var cred domain.TokenCredential
		require.NoError(t, json.Unmarshal(env.Data, &cred))
		assert.Equal(t, "jwt", cred.Token)
		svc.AssertExpectations(t)
	})

	t.Run("ended session conflicts", func(t *testing.T) {
		svc := new(MockTokenService)
		h := handler.NewTokenHandler(svc)

		sessionID := uuid.New()
		svc.On("Issue", mock.Anything, testUserID, "algebra", sessionID, domain.TokenRequest{ParticipantName: "Ada"}).
			Return(nil, fmt.Errorf("%w: session has ended", domain.ErrConflict))

		rec := serve(t, http.MethodPost, "/sessions/{sessionID}/token", "/classrooms/algebra/sessions/"+sessionID.String()+"/token",
			domain.TokenRequest{ParticipantName: "Ada"}, h.Issue)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestTokenHandler_Refresh(t *testing.T) {
	svc := new(MockTokenService)
	h := handler.NewTokenHandler(svc)

	sessionID := uuid.New()
	svc.On("Refresh", mock.Anything, testUserID, "algebra", sessionID, domain.TokenRequest{}).
		Return(&domain.TokenCredential{Token: "fresh"}, nil)

	rec := serve(t, http.MethodPut, "/sessions/{sessionID}/token", "/classrooms/algebra/sessions/"+sessionID.String()+"/token", nil, h.Refresh)

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
	svc.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestChatHandler_History(t *testing.T) {
	svc := new(MockChatService)
	h := handler.NewChatHandler(svc)

	sessionID := uuid.New()
	svc.On("History", mock.Anything, testUserID, "algebra", sessionID, 20, 40).
		Return([]domain.ChatMessage{{ID: "m1", Content: "hi"}}, nil)

	rec := serve(t, http.MethodGet, "/sessions/{sessionID}/messages",
		"/classrooms/algebra/sessions/"+sessionID.String()+"/messages?limit=20&offset=40", nil, h.History)

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestChatHandler_Send(t *testing.T) {
	svc := new(MockChatService)
	h := handler.NewChatHandler(svc)

	sessionID := uuid.New()
	svc.On("Send", mock.Anything, testUserID, "algebra", sessionID, domain.MessageCreate{Content: "hello"}).
		Return(&domain.ChatMessage{ID: "m2", Content: "hello", Type: domain.MessageUser}, nil)

	rec := serve(t, http.MethodPost, "/sessions/{sessionID}/messages",
		"/classrooms/algebra/sessions/"+sessionID.String()+"/messages", domain.MessageCreate{Content: "hello"}, h.Send)

	assert.Equal(t, http.StatusCreated, rec.Code)
	svc.AssertExpectations(t)
}

func TestChatHandler_Feed_SubscribeFailure(t *testing.T) {
	svc := new(MockChatService)
	h := handler.NewChatHandler(svc)

	sessionID := uuid.New()
	svc.On("Subscribe", mock.Anything, testUserID, "algebra", sessionID).
		Return(nil, nil, fmt.Errorf("%w: chat feed unavailable", domain.ErrTransport))

	rec := serve(t, http.MethodGet, "/sessions/{sessionID}/feed",
		"/classrooms/algebra/sessions/"+sessionID.String()+"/feed", nil, h.Feed)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, domain.CodeTransport, env.Error.Code)
}
