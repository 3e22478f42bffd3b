package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newSessionFixture(ctx context.Context, role string) (*SessionService, *MockSessionRepository, *classroomFixture) {
	cf := newClassroomFixture(ctx, role)
	repo := new(MockSessionRepository)
	svc := &SessionService{
		sessionRepo: repo,
		classrooms:  cf.svc,
		maxLive:     domain.DefaultMaxLiveDuration,
		now:         fixedNow,
	}
	return svc, repo, cf
}

func TestSessionService_Create(t *testing.T) {
	ctx := context.Background()
	start := testNow.Add(time.Hour)

	t.Run("host schedules a session", func(t *testing.T) {
		svc, repo, cf := newSessionFixture(ctx, domain.RoleTutor)
		repo.On("Create", ctx, mock.AnythingOfType("*domain.LiveSession")).Return(nil)

		session, err := svc.Create(ctx, cf.userID, "algebra", domain.SessionCreate{Title: " Week 1 ", StartsAt: &start})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusScheduled, session.Status)
		assert.Equal(t, "Week 1", session.Title)
		assert.Equal(t, cf.classroom.ID, session.ClassroomID)
		assert.Equal(t, cf.userID, session.HostID)
		assert.NotEmpty(t, session.PublicID)
		repo.AssertExpectations(t)
	})

	t.Run("student cannot schedule", func(t *testing.T) {
		svc, repo, cf := newSessionFixture(ctx, domain.RoleStudent)

		_, err := svc.Create(ctx, cf.userID, "algebra", domain.SessionCreate{Title: "Week 1", StartsAt: &start})
		assert.True(t, errors.Is(err, domain.ErrPermission))
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("missing title is rejected before any lookup", func(t *testing.T) {
		svc, _, cf := newSessionFixture(ctx, domain.RoleTutor)

		_, err := svc.Create(ctx, cf.userID, "algebra", domain.SessionCreate{StartsAt: &start})
		assert.True(t, errors.Is(err, domain.ErrValidation))
		cf.repo.AssertNotCalled(t, "GetBySlug", mock.Anything, mock.Anything)
	})
}

func TestSessionService_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown session", func(t *testing.T) {
		svc, repo, cf := newSessionFixture(ctx, domain.RoleStudent)
		id := uuid.New()
		repo.On("Get", ctx, cf.classroom.ID, id).Return(nil, nil)

		_, err := svc.Get(ctx, cf.userID, "algebra", id)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("non member", func(t *testing.T) {
		svc, _, cf := newSessionFixture(ctx, "")

		_, err := svc.Get(ctx, cf.userID, "algebra", uuid.New())
		assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	})
}

func TestSessionService_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("backwards transition is a conflict", func(t *testing.T) {
		svc, repo, cf := newSessionFixture(ctx, domain.RoleTutor)
		session := &domain.LiveSession{ID: uuid.New(), ClassroomID: cf.classroom.ID, Status: domain.StatusEnded, StartsAt: testNow.Add(-time.Hour)}
		repo.On("Get", ctx, cf.classroom.ID, session.ID).Return(session, nil)

		_, err := svc.Update(ctx, cf.userID, "algebra", session.ID, domain.StatusUpdate(domain.StatusLive))
		assert.True(t, errors.Is(err, domain.ErrConflict))
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("host ends a live session", func(t *testing.T) {
		svc, repo, cf := newSessionFixture(ctx, domain.RoleTutor)
		session := &domain.LiveSession{ID: uuid.New(), ClassroomID: cf.classroom.ID, Status: domain.StatusLive, StartsAt: testNow.Add(-time.Hour)}
		repo.On("Get", ctx, cf.classroom.ID, session.ID).Return(session, nil)
		repo.On("Update", ctx, session).Return(nil)

		updated, err := svc.Update(ctx, cf.userID, "algebra", session.ID, domain.StatusUpdate(domain.StatusEnded))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusEnded, updated.Status)
		require.NotNil(t, updated.EndsAt)
		assert.Equal(t, testNow, *updated.EndsAt)
	})

	t.Run("student may apply the due transition", func(t *testing.T) {
		svc, repo, cf := newSessionFixture(ctx, domain.RoleStudent)
		session := &domain.LiveSession{ID: uuid.New(), ClassroomID: cf.classroom.ID, Status: domain.StatusScheduled, StartsAt: testNow.Add(-time.Minute), HostID: uuid.New()}
		repo.On("Get", ctx, cf.classroom.ID, session.ID).Return(session, nil)
		repo.On("Update", ctx, session).Return(nil)

		updated, err := svc.Update(ctx, cf.userID, "algebra", session.ID, domain.StatusUpdate(domain.StatusLive))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusLive, updated.Status)
		require.NotNil(t, updated.StartedAt)
	})

	t.Run("student cannot force a transition that is not due", func(t *testing.T) {
		svc, repo, cf := newSessionFixture(ctx, domain.RoleStudent)
		session := &domain.LiveSession{ID: uuid.New(), ClassroomID: cf.classroom.ID, Status: domain.StatusScheduled, StartsAt: testNow.Add(time.Hour), HostID: uuid.New()}
		repo.On("Get", ctx, cf.classroom.ID, session.ID).Return(session, nil)

		_, err := svc.Update(ctx, cf.userID, "algebra", session.ID, domain.StatusUpdate(domain.StatusEnded))
		assert.True(t, errors.Is(err, domain.ErrPermission))
	})
}

func TestSessionService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("live session without force is a conflict", func(t *testing.T) {
		svc, repo, cf := newSessionFixture(ctx, domain.RoleOwner)
		session := &domain.LiveSession{ID: uuid.New(), ClassroomID: cf.classroom.ID, Status: domain.StatusLive, StartsAt: testNow.Add(-time.Hour)}
		repo.On("Get", ctx, cf.classroom.ID, session.ID).Return(session, nil)

		err := svc.Delete(ctx, cf.userID, "algebra", session.ID, false)
		assert.True(t, errors.Is(err, domain.ErrConflict))
		repo.AssertNotCalled(t, "SoftDelete", mock.Anything, mock.Anything)
	})

	t.Run("tutor cannot force delete a live session", func(t *testing.T) {
		svc, repo, cf := newSessionFixture(ctx, domain.RoleTutor)
		session := &domain.LiveSession{ID: uuid.New(), ClassroomID: cf.classroom.ID, Status: domain.StatusLive, StartsAt: testNow.Add(-time.Hour)}
		repo.On("Get", ctx, cf.classroom.ID, session.ID).Return(session, nil)

		err := svc.Delete(ctx, cf.userID, "algebra", session.ID, true)
		assert.True(t, errors.Is(err, domain.ErrConflict))
	})

	t.Run("owner force ends then deletes", func(t *testing.T) {
		svc, repo, cf := newSessionFixture(ctx, domain.RoleOwner)
		session := &domain.LiveSession{ID: uuid.New(), ClassroomID: cf.classroom.ID, Status: domain.StatusLive, StartsAt: testNow.Add(-time.Hour)}
		repo.On("Get", ctx, cf.classroom.ID, session.ID).Return(session, nil)
		repo.On("SoftDelete", ctx, session).Return(nil)

		require.NoError(t, svc.Delete(ctx, cf.userID, "algebra", session.ID, true))
		assert.Equal(t, domain.StatusEnded, session.Status)
		assert.True(t, session.IsDeleted)
	})

	t.Run("scheduled session is cancelled", func(t *testing.T) {
		svc, repo, cf := newSessionFixture(ctx, domain.RoleTutor)
		session := &domain.LiveSession{ID: uuid.New(), ClassroomID: cf.classroom.ID, Status: domain.StatusScheduled, StartsAt: testNow.Add(time.Hour)}
		repo.On("Get", ctx, cf.classroom.ID, session.ID).Return(session, nil)
		repo.On("SoftDelete", ctx, session).Return(nil)

		require.NoError(t, svc.Delete(ctx, cf.userID, "algebra", session.ID, false))
		assert.Equal(t, domain.StatusCancelled, session.Status)
	})
}

func TestSessionService_Sync(t *testing.T) {
	ctx := context.Background()
	svc, repo, cf := newSessionFixture(ctx, domain.RoleStudent)

	sessions := []domain.LiveSession{
		{ID: uuid.New(), Status: domain.StatusScheduled, StartsAt: testNow.Add(-time.Minute)},
		{ID: uuid.New(), Status: domain.StatusLive, StartsAt: testNow.Add(-2 * time.Hour), EndsAt: timePtr(testNow.Add(-time.Minute))},
		{ID: uuid.New(), Status: domain.StatusScheduled, StartsAt: testNow.Add(time.Hour)},
	}
	repo.On("ListByClassroom", ctx, cf.classroom.ID, (*domain.SessionStatus)(nil)).Return(sessions, nil)
	repo.On("Update", ctx, mock.AnythingOfType("*domain.LiveSession")).Return(nil).Twice()

	result, err := svc.Sync(ctx, cf.userID, "algebra")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Activated)
	assert.Equal(t, 1, result.Ended)
	repo.AssertExpectations(t)
}

func TestSessionService_EndingClosesRoom(t *testing.T) {
	ctx := context.Background()

	withCloseOut := func(svc *SessionService) (*MockRoomCloser, *MockCredentialFlusher) {
		rooms := new(MockRoomCloser)
		tokens := new(MockCredentialFlusher)
		svc.rooms = rooms
		svc.tokens = tokens
		return rooms, tokens
	}

	t.Run("host ends a live session", func(t *testing.T) {
		svc, repo, cf := newSessionFixture(ctx, domain.RoleTutor)
		rooms, tokens := withCloseOut(svc)
		session := &domain.LiveSession{ID: uuid.New(), PublicID: "abc123", ClassroomID: cf.classroom.ID, Status: domain.StatusLive, StartsAt: testNow.Add(-time.Hour)}
		repo.On("Get", ctx, cf.classroom.ID, session.ID).Return(session, nil)
		repo.On("Update", ctx, session).Return(nil)
		rooms.On("CloseRoom", "session-abc123", "session ended").Once()
		tokens.On("FlushSession", ctx, session.ID).Return(int64(2), nil).Once()

		_, err := svc.Update(ctx, cf.userID, "algebra", session.ID, domain.StatusUpdate(domain.StatusEnded))
		require.NoError(t, err)
		rooms.AssertExpectations(t)
		tokens.AssertExpectations(t)
	})

	t.Run("starting a session leaves the room open", func(t *testing.T) {
		svc, repo, cf := newSessionFixture(ctx, domain.RoleTutor)
		rooms, tokens := withCloseOut(svc)
		session := &domain.LiveSession{ID: uuid.New(), PublicID: "abc123", ClassroomID: cf.classroom.ID, Status: domain.StatusScheduled, StartsAt: testNow.Add(-time.Minute)}
		repo.On("Get", ctx, cf.classroom.ID, session.ID).Return(session, nil)
		repo.On("Update", ctx, session).Return(nil)

		_, err := svc.Update(ctx, cf.userID, "algebra", session.ID, domain.StatusUpdate(domain.StatusLive))
		require.NoError(t, err)
		rooms.AssertNotCalled(t, "CloseRoom", mock.Anything, mock.Anything)
		tokens.AssertNotCalled(t, "FlushSession", mock.Anything, mock.Anything)
	})

	t.Run("a failed flush does not fail the update", func(t *testing.T) {
		svc, repo, cf := newSessionFixture(ctx, domain.RoleTutor)
		rooms, tokens := withCloseOut(svc)
		session := &domain.LiveSession{ID: uuid.New(), PublicID: "abc123", ClassroomID: cf.classroom.ID, Status: domain.StatusLive, StartsAt: testNow.Add(-time.Hour)}
		repo.On("Get", ctx, cf.classroom.ID, session.ID).Return(session, nil)
		repo.On("Update", ctx, session).Return(nil)
		rooms.On("CloseRoom", "session-abc123", "session ended").Once()
		tokens.On("FlushSession", ctx, session.ID).Return(int64(0), errors.New("redis down")).Once()

		updated, err := svc.Update(ctx, cf.userID, "algebra", session.ID, domain.StatusUpdate(domain.StatusEnded))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusEnded, updated.Status)
		rooms.AssertExpectations(t)
	})

	t.Run("owner force delete closes the room", func(t *testing.T) {
		svc, repo, cf := newSessionFixture(ctx, domain.RoleOwner)
		rooms, tokens := withCloseOut(svc)
		session := &domain.LiveSession{ID: uuid.New(), PublicID: "abc123", ClassroomID: cf.classroom.ID, Status: domain.StatusLive, StartsAt: testNow.Add(-time.Hour)}
		repo.On("Get", ctx, cf.classroom.ID, session.ID).Return(session, nil)
		repo.On("SoftDelete", ctx, session).Return(nil)
		rooms.On("CloseRoom", "session-abc123", "session ended").Once()
		tokens.On("FlushSession", ctx, session.ID).Return(int64(1), nil).Once()

		require.NoError(t, svc.Delete(ctx, cf.userID, "algebra", session.ID, true))
		rooms.AssertExpectations(t)
		tokens.AssertExpectations(t)
	})

	t.Run("sync closes only the rooms it ends", func(t *testing.T) {
		svc, repo, cf := newSessionFixture(ctx, domain.RoleStudent)
		rooms, tokens := withCloseOut(svc)
		starting := domain.LiveSession{ID: uuid.New(), PublicID: "start1", Status: domain.StatusScheduled, StartsAt: testNow.Add(-time.Minute)}
		ending := domain.LiveSession{ID: uuid.New(), PublicID: "end1", Status: domain.StatusLive, StartsAt: testNow.Add(-25 * time.Hour)}
		repo.On("ListByClassroom", ctx, cf.classroom.ID, (*domain.SessionStatus)(nil)).Return([]domain.LiveSession{starting, ending}, nil)
		repo.On("Update", ctx, mock.AnythingOfType("*domain.LiveSession")).Return(nil).Twice()
		rooms.On("CloseRoom", "session-end1", "session ended").Once()
		tokens.On("FlushSession", ctx, ending.ID).Return(int64(0), nil).Once()

		result, err := svc.Sync(ctx, cf.userID, "algebra")
		require.NoError(t, err)
		assert.Equal(t, 1, result.Activated)
		assert.Equal(t, 1, result.Ended)
		rooms.AssertExpectations(t)
		rooms.AssertNotCalled(t, "CloseRoom", "session-start1", mock.Anything)
		tokens.AssertExpectations(t)
	})
}
