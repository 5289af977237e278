package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vadim/flock/internal/apperror"
)

// Error sends an error response
func Error(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// NoContent sends a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Created sends a 201 Created response with JSON body
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// OK sends a 200 OK response with JSON body
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// BadRequest sends a 400 Bad Request error
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// NotFound sends a 404 Not Found error
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message)
}

// InternalError sends a 500 Internal Server Error
func InternalError(w http.ResponseWriter, message string) {
	Error(w, http.StatusInternalServerError, message)
}

// Unauthorized sends a 401 Unauthorized error
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, message)
}

// Forbidden sends a 403 Forbidden error
func Forbidden(w http.ResponseWriter, message string) {
	Error(w, http.StatusForbidden, message)
}

// Conflict sends a 409 Conflict error
func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, message)
}

// Unavailable sends a 503 Service Unavailable error
func Unavailable(w http.ResponseWriter, message string) {
	Error(w, http.StatusServiceUnavailable, message)
}

// AppError maps a domain error onto the matching HTTP status. Unrecognized
// errors become a generic 500 without leaking internals.
func AppError(w http.ResponseWriter, err error) {
	msg := apperror.UserMessage(err)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		NotFound(w, msg)
	case errors.Is(err, apperror.ErrInvalidInput):
		BadRequest(w, msg)
	case errors.Is(err, apperror.ErrForbidden):
		Forbidden(w, msg)
	case errors.Is(err, apperror.ErrConflict):
		Conflict(w, msg)
	case errors.Is(err, apperror.ErrUnavailable):
		Unavailable(w, msg)
	default:
		InternalError(w, "internal server error")
	}
}
