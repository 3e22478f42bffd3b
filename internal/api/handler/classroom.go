package handler

import (
	"net/http"

	"github.com/Rrens/classroom-live/internal/api/response"
	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/Rrens/classroom-live/internal/service"
)

// ClassroomHandler handles classroom endpoints
type ClassroomHandler struct {
	classroomService *service.ClassroomService
}

// NewClassroomHandler creates a new classroom handler
func NewClassroomHandler(classroomService *service.ClassroomService) *ClassroomHandler {
	return &ClassroomHandler{classroomService: classroomService}
}

// List returns the caller's classrooms
func (h *ClassroomHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := caller(w, r)
	if !ok {
		return
	}

	classrooms, err := h.classroomService.ListByUser(r.Context(), userID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, classrooms)
}

// Create creates a classroom owned by the caller
func (h *ClassroomHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := caller(w, r)
	if !ok {
		return
	}

	var input domain.ClassroomCreate
	if !decode(w, r, &input, false) {
		return
	}

	classroom, err := h.classroomService.Create(r.Context(), userID, input)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, classroom)
}

// Get returns the classroom and the caller's role in it
func (h *ClassroomHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, slug, ok := caller(w, r)
	if !ok {
		return
	}

	membership, err := h.classroomService.Resolve(r.Context(), userID, slug)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, map[string]any{
		"classroom": membership.Classroom,
		"role":      membership.Member.Role,
	})
}

// AddMember adds a user to the classroom
func (h *ClassroomHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, slug, ok := caller(w, r)
	if !ok {
		return
	}

	var input domain.MemberAdd
	if !decode(w, r, &input, false) {
		return
	}

	member, err := h.classroomService.AddMember(r.Context(), userID, slug, input)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, member)
}
