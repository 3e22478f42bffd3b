package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Classroom is the aggregate that owns live sessions
type Classroom struct {
	ID        uuid.UUID `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClassroomCreate represents classroom creation data
type ClassroomCreate struct {
	Name string `json:"name" validate:"required,max=255"`
	Slug string `json:"slug" validate:"required,max=64,alphanum"`
}

// ClassroomMember represents classroom membership
type ClassroomMember struct {
	ClassroomID uuid.UUID `json:"classroom_id"`
	UserID      uuid.UUID `json:"user_id"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// MemberAdd represents a membership request
type MemberAdd struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	Role   string    `json:"role" validate:"required,oneof=tutor student"`
}

// Role constants
const (
	RoleOwner   = "owner"
	RoleTutor   = "tutor"
	RoleStudent = "student"
)

// IsHostRole reports whether role may manage sessions and moderate rooms
func IsHostRole(role string) bool {
	return role == RoleOwner || role == RoleTutor
}

// ClassroomRepository defines the interface for classroom storage
type ClassroomRepository interface {
	Create(ctx context.Context, classroom *Classroom) error
	GetBySlug(ctx context.Context, slug string) (*Classroom, error)
	AddMember(ctx context.Context, member *ClassroomMember) error
	GetMember(ctx context.Context, classroomID, userID uuid.UUID) (*ClassroomMember, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]Classroom, error)
}
