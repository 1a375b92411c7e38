package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/auditlog"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/defcon"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/identity"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
	maxBodyBytes      = 4 << 10
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sequence": s.log.Sequence(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.machine.Report())
}

type auditResponse struct {
	Entries  []*auditlog.Entry `json:"entries"`
	Head     string            `json:"head"`
	Sequence uint64            `json:"sequence"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, auditResponse{
		Entries:  s.log.Query(filter),
		Head:     s.log.Head(),
		Sequence: s.log.Sequence(),
	})
}

func parseAuditFilter(r *http.Request) (auditlog.Filter, error) {
	q := r.URL.Query()
	filter := auditlog.Filter{Limit: defaultAuditLimit}

	var err error
	if v := q.Get("from"); v != "" {
		if filter.FromSeq, err = strconv.ParseUint(v, 10, 64); err != nil {
			return filter, fmt.Errorf("invalid from: %q", v)
		}
	}
	if v := q.Get("to"); v != "" {
		if filter.ToSeq, err = strconv.ParseUint(v, 10, 64); err != nil {
			return filter, fmt.Errorf("invalid to: %q", v)
		}
	}
	if filter.ToSeq > 0 && filter.FromSeq > filter.ToSeq {
		return filter, fmt.Errorf("from (%d) is after to (%d)", filter.FromSeq, filter.ToSeq)
	}
	if v := q.Get("kind"); v != "" {
		filter.Kind = auditlog.Kind(v)
		if !filter.Kind.Valid() {
			return filter, fmt.Errorf("invalid kind: %q", v)
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return filter, fmt.Errorf("invalid limit: %q", v)
		}
		filter.Limit = min(n, maxAuditLimit)
	}
	return filter, nil
}

type oracleRequest struct {
	Oracle string `json:"oracle"`
}

// updateOracle decodes the new oracle. A malformed body still goes through
// the machine with the zero address so that the owner check runs first.
func (s *Server) updateOracle(ctx context.Context, caller identity.Address, r *http.Request) (uint64, error) {
	var req oracleRequest
	var parseErr error
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		parseErr = fmt.Errorf("invalid request body: %w", err)
	}
	newOracle := identity.Zero
	if parseErr == nil {
		newOracle, parseErr = identity.Parse(req.Oracle)
	}

	seq, err := s.machine.UpdateOracle(ctx, caller, newOracle)
	if parseErr != nil && errors.Is(err, defcon.ErrInvalidArgument) {
		return 0, &defcon.Error{Op: "updateOracle", Kind: defcon.ErrInvalidArgument, Detail: parseErr.Error()}
	}
	return seq, err
}
