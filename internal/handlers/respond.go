package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/fgorczyca03/MathTutorApplication/internal/conversation"
	"github.com/fgorczyca03/MathTutorApplication/internal/ingest"
	"github.com/fgorczyca03/MathTutorApplication/internal/middleware"
	"github.com/fgorczyca03/MathTutorApplication/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get(middleware.RequestIDHeader),
		},
	}
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, conversation.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
	case errors.Is(err, conversation.ErrBusy):
		writeJSON(w, http.StatusConflict, errorResp("BUSY", "The tutor is still answering. Please wait.", r))
	case errors.Is(err, ingest.ErrTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", "Image exceeds the size limit", r))
	case errors.Is(err, ingest.ErrEmpty):
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "No image provided", r))
	case errors.Is(err, ingest.ErrMalformed):
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Image payload is not valid base64", r))
	case errors.Is(err, ingest.ErrUnsupportedFormat), errors.Is(err, conversation.ErrInvalidImage):
		writeJSON(w, http.StatusUnsupportedMediaType, errorResp("UNSUPPORTED_FORMAT", "Image type not supported", r))
	default:
		log.Printf("request %s failed: %v", r.Header.Get(middleware.RequestIDHeader), err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Something went wrong", r))
	}
}
