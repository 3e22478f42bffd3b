package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/rs/zerolog/log"
)

// Response represents a standard API response
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Error   any  `json:"error,omitempty"`
}

// ErrorBody is the error payload. Code is a stable machine readable value
// the client maps back onto domain errors.
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	json.NewEncoder(w).Encode(resp)
}

// Error sends an error response
func Error(w http.ResponseWriter, status int, message any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body, ok := message.(ErrorBody)
	if !ok {
		body = ErrorBody{Code: codeForStatus(status)}
		switch m := message.(type) {
		case string:
			body.Message = m
		case map[string]string:
			body.Message = domain.ErrValidation.Error()
			body.Fields = m
		default:
			body.Message = http.StatusText(status)
		}
	}

	json.NewEncoder(w).Encode(Response{Success: false, Error: body})
}

// FromError translates a domain error into an HTTP error response
func FromError(w http.ResponseWriter, err error) {
	code := domain.ErrorCode(err)
	status := StatusForCode(code)

	body := ErrorBody{Code: code, Message: err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.FieldErrors
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
		body.Message = "internal server error"
	}

	Error(w, status, body)
}

// StatusForCode returns the HTTP status for an error code
func StatusForCode(code string) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodePermission:
		return http.StatusForbidden
	case domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeTransport:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return domain.CodeValidation
	case http.StatusNotFound:
		return domain.CodeNotFound
	case http.StatusForbidden:
		return domain.CodePermission
	case http.StatusConflict:
		return domain.CodeConflict
	case http.StatusUnauthorized:
		return domain.CodeUnauthorized
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return domain.CodeTransport
	}
	return domain.CodeInternal
}

// NoContent sends a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Created sends a 201 Created response with data
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// OK sends a 200 OK response with data
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// BadRequest sends a 400 Bad Request response
func BadRequest(w http.ResponseWriter, message any) {
	Error(w, http.StatusBadRequest, message)
}

// Unauthorized sends a 401 Unauthorized response
func Unauthorized(w http.ResponseWriter, message any) {
	Error(w, http.StatusUnauthorized, message)
}

// Forbidden sends a 403 Forbidden response
func Forbidden(w http.ResponseWriter, message any) {
	Error(w, http.StatusForbidden, message)
}

// NotFound sends a 404 Not Found response
func NotFound(w http.ResponseWriter, message any) {
	Error(w, http.StatusNotFound, message)
}

// InternalError sends a 500 Internal Server Error response
func InternalError(w http.ResponseWriter, message any) {
	Error(w, http.StatusInternalServerError, message)
}
