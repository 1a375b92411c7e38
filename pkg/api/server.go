package api

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/auditlog"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/defcon"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/identity"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/observability"
)

// Config wires the server's collaborators. Machine is required; a nil
// Auth rejects every mutation and a nil Limiter disables rate limiting.
type Config struct {
	Machine       *defcon.Machine
	Auth          *Authenticator
	Limiter       *RateLimiter
	Observability *observability.Provider
	Logger        *slog.Logger
}

type Server struct {
	machine *defcon.Machine
	log     *auditlog.Log
	auth    *Authenticator
	limiter *RateLimiter
	obs     *observability.Provider
	logger  *slog.Logger
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observability == nil {
		cfg.Observability, _ = observability.New(context.Background(), &observability.Config{Enabled: false})
	}
	return &Server{
		machine: cfg.Machine,
		log:     cfg.Machine.Log(),
		auth:    cfg.Auth,
		limiter: cfg.Limiter,
		obs:     cfg.Observability,
		logger:  cfg.Logger.With("component", "api"),
	}
}

// Handler returns the routed HTTP handler. Reads are public; mutations go
// through the rate limiter and bearer authentication.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/defcon/status", s.handleStatus)
	mux.HandleFunc("GET /v1/defcon/audit", s.handleAudit)
	mux.HandleFunc("GET /v1/defcon/events", s.handleEvents)
	mux.HandleFunc("GET /v1/defcon/ws", s.handleWebSocket)

	mux.Handle("POST /v1/defcon/activate", s.protect(s.mutation("activate", auditlog.KindActivated,
		func(ctx context.Context, caller identity.Address, _ *http.Request) (uint64, error) {
			return s.machine.Activate(ctx, caller)
		})))
	mux.Handle("POST /v1/defcon/request-deactivation", s.protect(s.mutation("requestDeactivation", auditlog.KindDeactivationRequested,
		func(ctx context.Context, caller identity.Address, _ *http.Request) (uint64, error) {
			return s.machine.RequestDeactivation(ctx, caller)
		})))
	mux.Handle("POST /v1/defcon/finalize-deactivation", s.protect(s.mutation("finalizeDeactivation", auditlog.KindDeactivationFinalized,
		func(ctx context.Context, caller identity.Address, _ *http.Request) (uint64, error) {
			return s.machine.FinalizeDeactivation(ctx, caller)
		})))
	mux.Handle("POST /v1/defcon/cancel-deactivation", s.protect(s.mutation("cancelDeactivation", auditlog.KindDeactivationCancelled,
		func(ctx context.Context, caller identity.Address, _ *http.Request) (uint64, error) {
			return s.machine.CancelDeactivation(ctx, caller)
		})))
	mux.Handle("PUT /v1/defcon/oracle", s.protect(s.mutation("updateOracle", auditlog.KindOracleUpdated, s.updateOracle)))

	return mux
}

func (s *Server) protect(h http.Handler) http.Handler {
	h = s.auth.Middleware(h)
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	return h
}

type mutationFunc func(ctx context.Context, caller identity.Address, r *http.Request) (uint64, error)

type mutationResponse struct {
	Sequence uint64        `json:"sequence"`
	Status   defcon.Status `json:"status,omitempty"`
}

func (s *Server) mutation(op string, kind auditlog.Kind, call mutationFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			WriteUnauthenticated(w, r, "Authentication required")
			return
		}

		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		ctx, done := s.obs.TrackOperation(r.Context(), "defcon."+op,
			attribute.String("defcon.op", op),
			attribute.String("defcon.caller", caller.String()),
		)
		seq, err := call(ctx, caller, r)
		done(err)

		if err != nil {
			if kind := defcon.KindOf(err); kind != "" {
				s.obs.RecordRejection(ctx, op, kind)
			}
			WriteGovernanceError(w, r, err)
			return
		}
		s.obs.RecordTransition(ctx, op, string(kind))
		writeJSON(w, http.StatusOK, mutationResponse{Sequence: seq, Status: s.committedStatus(ctx, seq)})
	})
}

// committedStatus reads the status from the entry at seq, so it matches the
// returned sequence even when later transitions have already landed.
func (s *Server) committedStatus(ctx context.Context, seq uint64) defcon.Status {
	entries := s.log.Query(auditlog.Filter{FromSeq: seq, ToSeq: seq})
	if len(entries) != 1 {
		s.logger.WarnContext(ctx, "committed entry not found", "sequence", seq)
		return ""
	}
	status, err := defcon.StatusAfter(entries[0])
	if err != nil {
		s.logger.WarnContext(ctx, "committed status unavailable", "sequence", seq, "error", err)
		return ""
	}
	return status
}
