package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jensholdgaard/draft-auction/internal/auction"
	"github.com/jensholdgaard/draft-auction/internal/roster"
	"github.com/jensholdgaard/draft-auction/internal/telemetry"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &syntaxErr):
			return fmt.Errorf("body contains badly-formed JSON (at character %d)", syntaxErr.Offset)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return errors.New("body contains badly-formed JSON")
		case errors.As(err, &typeErr):
			return fmt.Errorf("body contains incorrect JSON type for field %q", typeErr.Field)
		case errors.Is(err, io.EOF):
			return errors.New("body must not be empty")
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return fmt.Errorf("body contains unknown key %s", strings.TrimPrefix(err.Error(), "json: unknown field "))
		case errors.As(err, &maxErr):
			return fmt.Errorf("body must not be larger than %d bytes", maxErr.Limit)
		default:
			return err
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("body must only contain a single JSON value")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg, reason string) {
	writeJSON(w, code, errorBody{Error: msg, Reason: reason})
}

// statusFor maps an engine or roster error to an HTTP status and reason code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, roster.ErrPlayerLocked):
		return http.StatusConflict, "player_locked"
	case errors.Is(err, roster.ErrDuplicate):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, auction.ErrNotFound):
		return http.StatusNotFound, auction.Reason(err)
	case errors.Is(err, auction.ErrConflict), errors.Is(err, auction.ErrInvalidState):
		return http.StatusConflict, auction.Reason(err)
	case errors.Is(err, auction.ErrInvalidCommand):
		return http.StatusBadRequest, auction.Reason(err)
	case errors.Is(err, auction.ErrScopeClosed):
		return http.StatusServiceUnavailable, auction.Reason(err)
	case auction.Rejected(err):
		return http.StatusUnprocessableEntity, auction.Reason(err)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// fail writes err. Internal errors are logged and their text withheld.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, reason := statusFor(err)
	if code == http.StatusInternalServerError {
		telemetry.LogWithTrace(r.Context(), s.logger).Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeError(w, code, "the server encountered a problem and could not process your request", reason)
		return
	}
	writeError(w, code, err.Error(), reason)
}
