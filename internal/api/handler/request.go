package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Rrens/classroom-live/internal/api/middleware"
	"github.com/Rrens/classroom-live/internal/api/response"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// decode reads a JSON body into input and validates its struct tags. An
// empty body is accepted when allowEmpty is set. It writes the error
// response itself and reports whether handling may continue.
func decode(w http.ResponseWriter, r *http.Request, input any, allowEmpty bool) bool {
	if err := json.NewDecoder(r.Body).Decode(input); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			response.BadRequest(w, "invalid request body")
			return false
		}
	}

	if err := validate.Struct(input); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			response.BadRequest(w, validationMessages(validationErrors))
			return false
		}
		response.BadRequest(w, err.Error())
		return false
	}
	return true
}

func validationMessages(validationErrors validator.ValidationErrors) map[string]string {
	fields := make(map[string]string)
	for _, e := range validationErrors {
		field := e.Field()
		tag := e.Tag()
		switch tag {
		case "required":
			fields[field] = "field is required"
		case "email":
			fields[field] = "invalid email format"
		case "min":
			fields[field] = "must be at least " + e.Param() + " characters"
		case "max":
			fields[field] = "must be at most " + e.Param() + " characters"
		case "oneof":
			fields[field] = "must be one of " + e.Param()
		default:
			fields[field] = "validation failed on " + tag
		}
	}
	return fields
}

// caller returns the authenticated user and classroom slug of the request
func caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return uuid.Nil, "", false
	}
	slug, _ := middleware.GetClassroom(r.Context())
	return userID, slug, true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.BadRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
