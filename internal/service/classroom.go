package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
)

// ClassroomService handles classrooms and membership checks
type ClassroomService struct {
	classroomRepo domain.ClassroomRepository
	now           func() time.Time
}

// NewClassroomService creates a new classroom service
func NewClassroomService(classroomRepo domain.ClassroomRepository) *ClassroomService {
	return &ClassroomService{classroomRepo: classroomRepo, now: time.Now}
}

// Membership is a resolved classroom together with the caller's role in it
type Membership struct {
	Classroom *domain.Classroom
	Member    *domain.ClassroomMember
}

// IsHost reports whether the member may manage sessions
func (m *Membership) IsHost() bool {
	return domain.IsHostRole(m.Member.Role)
}

// IsOwner reports whether the member owns the classroom
func (m *Membership) IsOwner() bool {
	return m.Member.Role == domain.RoleOwner
}

// Create creates a new classroom and adds the creator as owner
func (s *ClassroomService) Create(ctx context.Context, userID uuid.UUID, input domain.ClassroomCreate) (*domain.Classroom, error) {
	slug := strings.ToLower(strings.TrimSpace(input.Slug))

	existing, err := s.classroomRepo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to check slug: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("classroom %q already exists: %w", slug, domain.ErrConflict)
	}

	now := s.now()
	classroom := &domain.Classroom{
		ID:        uuid.New(),
		Slug:      slug,
		Name:      strings.TrimSpace(input.Name),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.classroomRepo.Create(ctx, classroom); err != nil {
		return nil, fmt.Errorf("failed to create classroom: %w", err)
	}

	member := &domain.ClassroomMember{
		ClassroomID: classroom.ID,
		UserID:      userID,
		Role:        domain.RoleOwner,
		CreatedAt:   now,
	}
	if err := s.classroomRepo.AddMember(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to add owner: %w", err)
	}

	return classroom, nil
}

// ListByUser retrieves all classrooms of a user
func (s *ClassroomService) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Classroom, error) {
	classrooms, err := s.classroomRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list classrooms: %w", err)
	}
	return classrooms, nil
}

// Resolve looks up a classroom by slug and the caller's membership in it.
// Non-members get ErrUnauthorized.
func (s *ClassroomService) Resolve(ctx context.Context, userID uuid.UUID, slug string) (*Membership, error) {
	classroom, err := s.classroomRepo.GetBySlug(ctx, strings.ToLower(slug))
	if err != nil {
		return nil, fmt.Errorf("failed to get classroom: %w", err)
	}
	if classroom == nil {
		return nil, fmt.Errorf("classroom %q: %w", slug, domain.ErrNotFound)
	}

	member, err := s.classroomRepo.GetMember(ctx, classroom.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	if member == nil {
		return nil, fmt.Errorf("not a member of classroom %q: %w", slug, domain.ErrUnauthorized)
	}

	return &Membership{Classroom: classroom, Member: member}, nil
}

// AddMember adds a user to the classroom. Tutors may add students, only
// the owner may add tutors.
func (s *ClassroomService) AddMember(ctx context.Context, requesterID uuid.UUID, slug string, input domain.MemberAdd) (*domain.ClassroomMember, error) {
	membership, err := s.Resolve(ctx, requesterID, slug)
	if err != nil {
		return nil, err
	}
	if !membership.IsHost() {
		return nil, fmt.Errorf("only hosts can add members: %w", domain.ErrPermission)
	}
	if input.Role == domain.RoleTutor && !membership.IsOwner() {
		return nil, fmt.Errorf("only the owner can add tutors: %w", domain.ErrPermission)
	}
	if input.Role != domain.RoleTutor && input.Role != domain.RoleStudent {
		return nil, domain.NewValidationError("role", "role must be tutor or student")
	}

	existing, err := s.classroomRepo.GetMember(ctx, membership.Classroom.ID, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	if existing != nil && existing.Role == domain.RoleOwner {
		return nil, fmt.Errorf("cannot change the owner's role: %w", domain.ErrConflict)
	}

	member := &domain.ClassroomMember{
		ClassroomID: membership.Classroom.ID,
		UserID:      input.UserID,
		Role:        input.Role,
		CreatedAt:   s.now(),
	}
	if err := s.classroomRepo.AddMember(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	return member, nil
}
