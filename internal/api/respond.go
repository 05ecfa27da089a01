package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"postbot/internal/errors"
	logx "postbot/pkg/logx"
)

var (
	errNotAdmin     = errors.New("admin only")
	errUnknownRoute = errors.New("unknown endpoint")
	errAuthRequired = errors.Mark(errors.New("missing init data"), errors.ErrAuthDenied)
	errUserMismatch = errors.Mark(errors.New("user_id does not match init data"), errors.ErrAuthDenied)
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnknownRoute):
		return http.StatusNotFound
	case errors.Is(err, errNotAdmin):
		return http.StatusForbidden
	case errors.Is(err, errors.ErrAuthDenied):
		return http.StatusUnauthorized
	case errors.IsMalformed(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an envelope. Internal failures are logged and reported
// without their cause.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	env := envelope{Error: err.Error()}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		env.Hint = strings.Join(hints, "; ")
	}
	if status == http.StatusInternalServerError {
		s.log.Error("api request failed",
			logx.String("path", r.URL.Path),
			logx.Bool("fatal", errors.IsFatal(err)),
			logx.Err(err),
		)
		env = envelope{Error: "internal error"}
	} else {
		s.log.Debug("api request rejected",
			logx.String("path", r.URL.Path),
			logx.Int("status", status),
			logx.Err(err),
		)
	}
	writeJSON(w, status, env)
}
