package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/taskgate/internal/core/domain"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type      domain.ErrorType `json:"type"`
	Message   string           `json:"message"`
	Reason    string           `json:"reason,omitempty"`
	BlockedBy []string         `json:"blocked_by,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as the JSON error envelope. Domain errors keep their
// type and status; context expiry maps to 504; anything else is a 500 whose
// details stay in the log.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	AddError(r.Context(), err)

	var derr *domain.Error
	switch {
	case errors.As(err, &derr):
		writeJSON(w, derr.HTTPStatusCode(), errorEnvelope{Error: errorBody{
			Type:      derr.Type,
			Message:   derr.Message,
			Reason:    derr.Reason,
			BlockedBy: derr.BlockedBy,
		}})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorEnvelope{Error: errorBody{
			Type:    domain.ErrorTypeServer,
			Message: "request timed out",
		}})
	default:
		logger.Error("request failed",
			slog.String("request_id", GetRequestID(r.Context())),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: errorBody{
			Type:    domain.ErrorTypeServer,
			Message: "internal error",
		}})
	}
}
