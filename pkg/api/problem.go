// Package api exposes the governance state machine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/defcon"
)

// ProblemDetail implements RFC 7807. For governance rejections Title is the
// error kind, so clients can switch on it.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// RemainingTimelockSeconds accompanies TimelockNotExpired.
	RemainingTimelockSeconds int64 `json:"remaining_timelock_seconds,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func writeProblem(w http.ResponseWriter, r *http.Request, p *ProblemDetail) {
	p.Type = "urn:defcon:problem:" + p.Title
	if r != nil {
		p.Instance = r.URL.Path
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes an RFC 7807 response.
func WriteError(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, r, &ProblemDetail{Title: title, Status: status, Detail: detail})
}

func WriteUnauthenticated(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="defcon"`)
	WriteError(w, r, http.StatusUnauthorized, "Unauthenticated", detail)
}

func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.FormatInt(ceilSeconds(retryAfter), 10))
	WriteError(w, r, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal logs err and writes a 500 that does not expose it.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("internal server error", "error", err, "path", r.URL.Path)
	WriteError(w, r, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// WriteGovernanceError maps a state machine error to its HTTP form.
func WriteGovernanceError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, defcon.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, defcon.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, defcon.ErrInvalidStateTransition):
		status = http.StatusConflict
	case errors.Is(err, defcon.ErrTimelockNotExpired):
		status = http.StatusConflict
	default:
		WriteInternal(w, r, err)
		return
	}

	p := &ProblemDetail{
		Title:  defcon.KindOf(err),
		Status: status,
		Detail: err.Error(),
	}
	var derr *defcon.Error
	if errors.As(err, &derr) {
		p.Detail = derr.Detail
		if derr.Remaining > 0 {
			p.RemainingTimelockSeconds = ceilSeconds(derr.Remaining)
			w.Header().Set("Retry-After", strconv.FormatInt(p.RemainingTimelockSeconds, 10))
		}
	}
	writeProblem(w, r, p)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
