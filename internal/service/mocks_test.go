package service

import (
	"context"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockUserRepository mocks domain.UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

// MockClassroomRepository mocks domain.ClassroomRepository
type MockClassroomRepository struct {
	mock.Mock
}

func (m *MockClassroomRepository) Create(ctx context.Context, classroom *domain.Classroom) error {
	args := m.Called(ctx, classroom)
	return args.Error(0)
}

func (m *MockClassroomRepository) GetBySlug(ctx context.Context, slug string) (*domain.Classroom, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Classroom), args.Error(1)
}

func (m *MockClassroomRepository) AddMember(ctx context.Context, member *domain.ClassroomMember) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

func (m *MockClassroomRepository) GetMember(ctx context.Context, classroomID, userID uuid.UUID) (*domain.ClassroomMember, error) {
	args := m.Called(ctx, classroomID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ClassroomMember), args.Error(1)
}

func (m *MockClassroomRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Classroom, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.Classroom), args.Error(1)
}

// MockSessionRepository mocks domain.SessionRepository
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Create(ctx context.Context, session *domain.LiveSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionRepository) Get(ctx context.Context, classroomID, id uuid.UUID) (*domain.LiveSession, error) {
	args := m.Called(ctx, classroomID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LiveSession), args.Error(1)
}

func (m *MockSessionRepository) ListByClassroom(ctx context.Context, classroomID uuid.UUID, status *domain.SessionStatus) ([]domain.LiveSession, error) {
	args := m.Called(ctx, classroomID, status)
	return args.Get(0).([]domain.LiveSession), args.Error(1)
}

func (m *MockSessionRepository) Update(ctx context.Context, session *domain.LiveSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionRepository) SoftDelete(ctx context.Context, session *domain.LiveSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

// MockMessageRepository mocks domain.MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Create(ctx context.Context, sessionID uuid.UUID, message *domain.ChatMessage) error {
	args := m.Called(ctx, sessionID, message)
	return args.Error(0)
}

func (m *MockMessageRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]domain.ChatMessage, error) {
	args := m.Called(ctx, sessionID, limit, offset)
	return args.Get(0).([]domain.ChatMessage), args.Error(1)
}

// MockAttachmentRepository mocks domain.AttachmentRepository
type MockAttachmentRepository struct {
	mock.Mock
}

func (m *MockAttachmentRepository) Create(ctx context.Context, attachment *domain.Attachment) error {
	args := m.Called(ctx, attachment)
	return args.Error(0)
}

func (m *MockAttachmentRepository) Get(ctx context.Context, classroomID, id uuid.UUID) (*domain.Attachment, error) {
	args := m.Called(ctx, classroomID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Attachment), args.Error(1)
}

func (m *MockAttachmentRepository) ListByClassroom(ctx context.Context, classroomID uuid.UUID, ids []uuid.UUID) ([]domain.Attachment, error) {
	args := m.Called(ctx, classroomID, ids)
	return args.Get(0).([]domain.Attachment), args.Error(1)
}

// MockTokenCache mocks TokenCache
type MockTokenCache struct {
	mock.Mock
}

func (m *MockTokenCache) Get(ctx context.Context, sessionID, userID uuid.UUID, variant string) (*domain.TokenCredential, error) {
	args := m.Called(ctx, sessionID, userID, variant)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TokenCredential), args.Error(1)
}

func (m *MockTokenCache) Set(ctx context.Context, sessionID, userID uuid.UUID, variant string, cred *domain.TokenCredential) error {
	args := m.Called(ctx, sessionID, userID, variant, cred)
	return args.Error(0)
}

func (m *MockTokenCache) Invalidate(ctx context.Context, sessionID, userID uuid.UUID) error {
	args := m.Called(ctx, sessionID, userID)
	return args.Error(0)
}

// MockRoomCloser mocks RoomCloser
type MockRoomCloser struct {
	mock.Mock
}

func (m *MockRoomCloser) CloseRoom(room, reason string) {
	m.Called(room, reason)
}

// MockCredentialFlusher mocks CredentialFlusher
type MockCredentialFlusher struct {
	mock.Mock
}

func (m *MockCredentialFlusher) FlushSession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(int64), args.Error(1)
}

// MockChatBus mocks ChatBus
type MockChatBus struct {
	mock.Mock
}

func (m *MockChatBus) Publish(ctx context.Context, event domain.MessageEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockChatBus) Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan domain.MessageEvent, func(), error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(<-chan domain.MessageEvent), args.Get(1).(func()), args.Error(2)
}

// classroomFixture wires a classroom service whose only classroom is slug
// and whose caller has role
type classroomFixture struct {
	repo      *MockClassroomRepository
	svc       *ClassroomService
	classroom *domain.Classroom
	userID    uuid.UUID
}

func newClassroomFixture(ctx context.Context, role string) *classroomFixture {
	repo := new(MockClassroomRepository)
	f := &classroomFixture{
		repo:      repo,
		svc:       &ClassroomService{classroomRepo: repo, now: fixedNow},
		classroom: &domain.Classroom{ID: uuid.New(), Slug: "algebra", Name: "Algebra"},
		userID:    uuid.New(),
	}
	repo.On("GetBySlug", ctx, "algebra").Return(f.classroom, nil)
	if role == "" {
		repo.On("GetMember", ctx, f.classroom.ID, f.userID).Return(nil, nil)
	} else {
		repo.On("GetMember", ctx, f.classroom.ID, f.userID).Return(&domain.ClassroomMember{
			ClassroomID: f.classroom.ID,
			UserID:      f.userID,
			Role:        role,
		}, nil)
	}
	return f
}
