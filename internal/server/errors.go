package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// errBadRequest marks request-shape failures detected by the handlers
// themselves (malformed JSON, missing form fields).
var errBadRequest = errors.New("bad request")

// statusFor maps an error to its HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, rag.ErrEmptyInput),
		errors.Is(err, rag.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrExtractionFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rag.ErrProviderUnavailable),
		errors.Is(err, rag.ErrTransientProvider):
		return http.StatusServiceUnavailable
	case errors.Is(err, rag.ErrGenerationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes the JSON error envelope. Internal errors
// are reported with a generic message so store or provider details do not
// leak to clients.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.FromContext(r.Context())
	status := statusFor(err)

	kind := rag.Kind(err)
	if errors.Is(err, errBadRequest) {
		kind = "InvalidArgument"
	}

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.String("kind", kind), slog.Any("error", err))
		msg = http.StatusText(status)
	} else {
		log.Warn("request rejected", slog.String("kind", kind), slog.Any("error", err))
	}

	writeJSON(w, r, status, errorResponse{Success: false, Error: msg, Kind: kind})
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}
