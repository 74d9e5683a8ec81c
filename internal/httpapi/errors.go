package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/MimeLyc/subrelay/internal/apperr"
	"github.com/MimeLyc/subrelay/pkg/log"
)

// Codes the adapter produces on its own, next to the apperr codes.
const (
	codeBadRequest    = "bad_request"
	codeNotAllowed    = "not_allowed"
	codeJobNotFound   = "job_not_found"
	codeNotConfigured = "not_configured"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindBusy, apperr.KindState:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindFileProcessing:
		return http.StatusUnprocessableEntity
	case apperr.KindTranslation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeAppError renders err with its stable code and the end-user message.
func writeAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		log.Error("Request failed: %v", err)
	}
	writeJSON(w, statusFor(kind), errorResponse{
		Code:    apperr.CodeOf(err),
		Message: apperr.UserMessage(err),
	})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
