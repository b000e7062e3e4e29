// Package server exposes the engine over HTTP: command endpoints for the
// two-phase action lifecycle, the liquidation entry point, admin recovery,
// read-only queries and the operational probes. Every command takes the
// shared mutex, so engine transitions stay strictly serialized.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"TickVault/internal/core"
	"TickVault/internal/observability"
	"TickVault/internal/oracle"
	"TickVault/internal/query"
	"TickVault/internal/state"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Server holds the HTTP surface over one engine.
type Server struct {
	mu      *sync.Mutex
	engine  *core.Engine
	queries *query.Service
	idem    *IdempotencyLRU
	health  *observability.HealthChecker
	metrics *observability.Metrics
	logger  zerolog.Logger

	// priceFeed, when set, is exposed behind the price admin endpoint.
	priceFeed *oracle.Fixed
}

func New(
	mu *sync.Mutex,
	engine *core.Engine,
	queries *query.Service,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		mu:      mu,
		engine:  engine,
		queries: queries,
		idem:    NewIdempotencyLRU(65536),
		health:  health,
		metrics: metrics,
		logger:  observability.NewLogger("server"),
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/deposit/initiate", s.handleInitiateDeposit)
		r.Post("/deposit/validate", s.handleValidate("deposit", func(user uuid.UUID, ts int64) error {
			return s.engine.ValidateDeposit(user, ts, nil)
		}))
		r.Post("/withdrawal/initiate", s.handleInitiateWithdrawal)
		r.Post("/withdrawal/validate", s.handleValidate("withdrawal", func(user uuid.UUID, ts int64) error {
			return s.engine.ValidateWithdrawal(user, ts, nil)
		}))
		r.Post("/position/open/initiate", s.handleInitiateOpen)
		r.Post("/position/open/validate", s.handleValidate("open_position", func(user uuid.UUID, ts int64) error {
			return s.engine.ValidateOpen(user, ts, nil)
		}))
		r.Post("/position/close/initiate", s.handleInitiateClose)
		r.Post("/position/close/validate", s.handleValidate("close_position", func(user uuid.UUID, ts int64) error {
			return s.engine.ValidateClose(user, ts, nil)
		}))
		r.Post("/liquidate", s.handleLiquidate)
		r.Post("/admin/remove-blocked", s.handleRemoveBlocked)
		if s.priceFeed != nil {
			r.Post("/admin/price", s.handleSetPrice)
		}

		r.Get("/pool", s.handlePool)
		r.Get("/tick/{tick}", s.handleTick)
		r.Get("/position/{tick}/{version}/{index}", s.handlePosition)
		r.Get("/pending/{user}", s.handlePending)
		r.Get("/admin/integrity", s.handleIntegrity)
	})

	return r
}

// --- command payloads ---

type actionRequest struct {
	User      string `json:"user"`
	To        string `json:"to,omitempty"`
	Validator string `json:"validator,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	Amount          string `json:"amount,omitempty"`
	Shares          string `json:"shares,omitempty"`
	DesiredLiqPrice string `json:"desired_liq_price,omitempty"`

	Tick    int32  `json:"tick,omitempty"`
	Version uint64 `json:"version,omitempty"`
	Index   uint32 `json:"index,omitempty"`
}

type liquidateRequest struct {
	Timestamp     int64  `json:"timestamp,omitempty"`
	MaxIterations uint16 `json:"max_iterations,omitempty"`
}

type removeBlockedRequest struct {
	User      string `json:"user"`
	To        string `json:"to"`
	Cleanup   bool   `json:"cleanup"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// parties resolves the (user, to, validator) triple; to and validator
// default to the user.
func (req *actionRequest) parties() (user, to, validator uuid.UUID, err error) {
	user, err = uuid.Parse(req.User)
	if err != nil {
		return
	}
	to = user
	if req.To != "" {
		if to, err = uuid.Parse(req.To); err != nil {
			return
		}
	}
	validator = user
	if req.Validator != "" {
		validator, err = uuid.Parse(req.Validator)
	}
	return
}

func (req *actionRequest) effectiveTimestamp() int64 {
	if req.Timestamp != 0 {
		return req.Timestamp
	}
	return time.Now().Unix()
}

// --- command handlers ---

func (s *Server) handleInitiateDeposit(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, to, validator, err := req.parties()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.runCommand(w, r, "initiate_deposit", func() error {
		return s.engine.InitiateDeposit(user, to, validator, amount, req.effectiveTimestamp(), nil)
	})
}

func (s *Server) handleInitiateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, to, validator, err := req.parties()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	shares, err := parseAmount(req.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.runCommand(w, r, "initiate_withdrawal", func() error {
		return s.engine.InitiateWithdrawal(user, to, validator, shares, req.effectiveTimestamp(), nil)
	})
}

func (s *Server) handleInitiateOpen(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, to, validator, err := req.parties()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	liqPrice, err := parseAmount(req.DesiredLiqPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.runCommand(w, r, "initiate_open", func() error {
		return s.engine.InitiateOpen(user, to, validator, amount, liqPrice, req.effectiveTimestamp(), nil)
	})
}

func (s *Server) handleInitiateClose(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, to, validator, err := req.parties()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := state.PositionID{Tick: req.Tick, Version: req.Version, Index: req.Index}
	s.runCommand(w, r, "initiate_close", func() error {
		return s.engine.InitiateClose(user, to, validator, id, amount, req.effectiveTimestamp(), nil)
	})
}

func (s *Server) handleValidate(action string, validate func(user uuid.UUID, ts int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req actionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := uuid.Parse(req.User)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.runCommand(w, r, "validate_"+action, func() error {
			return validate(user, req.effectiveTimestamp())
		})
	}
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ts := req.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	s.runCommandResult(w, r, "liquidate", func() (interface{}, error) {
		result, err := s.engine.Liquidate(ts, req.MaxIterations, nil)
		if err != nil {
			return nil, err
		}
		resp := map[string]interface{}{
			"liquidated_ticks":     result.LiquidatedTicks,
			"liquidated_positions": result.LiquidatedPositions,
		}
		if result.RemainingCollateral != nil {
			resp["remaining_collateral"] = result.RemainingCollateral.String()
		}
		return resp, nil
	})
}

func (s *Server) handleRemoveBlocked(w http.ResponseWriter, r *http.Request) {
	var req removeBlockedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := uuid.Parse(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := uuid.Parse(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ts := req.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	s.runCommand(w, r, "remove_blocked", func() error {
		return s.engine.RemoveBlockedPendingAction(user, to, req.Cleanup, ts)
	})
}

// runCommand serializes the engine call, deduplicates on the
// Idempotency-Key header and maps the error taxonomy onto status codes.
func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, action string, fn func() error) {
	s.runCommandResult(w, r, action, func() (interface{}, error) {
		return nil, fn()
	})
}

func (s *Server) runCommandResult(w http.ResponseWriter, r *http.Request, action string, fn func() (interface{}, error)) {
	start := time.Now()
	idemKey := r.Header.Get("Idempotency-Key")

	s.mu.Lock()
	if idemKey != "" && s.idem.Contains(action+":"+idemKey) {
		seq := s.engine.Sequence()
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":         "duplicate",
			"as_of_sequence": seq,
		})
		return
	}
	result, err := fn()
	if err == nil && idemKey != "" {
		s.idem.Add(action + ":" + idemKey)
	}
	seq := s.engine.Sequence()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ActionDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.ActionsRejected.WithLabelValues(action, err.Error()).Inc()
		}
		writeError(w, statusFor(err), err)
		return
	}
	if s.metrics != nil {
		s.metrics.ActionsProcessed.WithLabelValues(action).Inc()
	}

	resp := map[string]interface{}{
		"status":         "ok",
		"as_of_sequence": seq,
	}
	if result != nil {
		resp["result"] = result
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetPriceFeed registers a settable oracle behind POST /v1/admin/price.
// Call before Router.
func (s *Server) SetPriceFeed(f *oracle.Fixed) {
	s.priceFeed = f
}

type setPriceRequest struct {
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := uint256.FromDecimal(req.Price)
	if err != nil || price.IsZero() {
		writeError(w, http.StatusBadRequest, errors.New("invalid price"))
		return
	}
	ts := req.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	s.mu.Lock()
	s.priceFeed.Set(price, ts)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"price":     price.Dec(),
		"timestamp": ts,
	})
}

// --- query handlers ---

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	s.observeQuery("pool", func() (int, error) {
		writeJSON(w, http.StatusOK, s.queries.Pool())
		return http.StatusOK, nil
	})
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	s.observeQuery("tick", func() (int, error) {
		t, err := strconv.ParseInt(chi.URLParam(r, "tick"), 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return http.StatusBadRequest, err
		}
		resp, err := s.queries.Tick(int32(t))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return http.StatusNotFound, err
		}
		writeJSON(w, http.StatusOK, resp)
		return http.StatusOK, nil
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	s.observeQuery("position", func() (int, error) {
		t, err1 := strconv.ParseInt(chi.URLParam(r, "tick"), 10, 32)
		v, err2 := strconv.ParseUint(chi.URLParam(r, "version"), 10, 64)
		i, err3 := strconv.ParseUint(chi.URLParam(r, "index"), 10, 32)
		if err1 != nil || err2 != nil || err3 != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid position handle"))
			return http.StatusBadRequest, nil
		}
		id := state.PositionID{Tick: int32(t), Version: v, Index: uint32(i)}
		resp, err := s.queries.Position(id)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return http.StatusNotFound, err
		}
		writeJSON(w, http.StatusOK, resp)
		return http.StatusOK, nil
	})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	s.observeQuery("pending", func() (int, error) {
		user, err := uuid.Parse(chi.URLParam(r, "user"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return http.StatusBadRequest, err
		}
		resp, err := s.queries.Pending(user)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return http.StatusNotFound, err
		}
		writeJSON(w, http.StatusOK, resp)
		return http.StatusOK, nil
	})
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	s.observeQuery("integrity", func() (int, error) {
		report, err := s.queries.VerifyIntegrity(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return http.StatusInternalServerError, err
		}
		writeJSON(w, http.StatusOK, report)
		return http.StatusOK, nil
	})
}

func (s *Server) observeQuery(endpoint string, fn func() (int, error)) {
	start := time.Now()
	status, _ := fn()
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

// --- helpers ---

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(s)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, state.ErrPendingActionExists),
		errors.Is(err, core.ErrActionMismatch),
		errors.Is(err, state.ErrStalePosition):
		return http.StatusConflict
	case errors.Is(err, state.ErrNoPendingAction):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNotOwner),
		errors.Is(err, core.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, core.ErrImbalanceLimitReached),
		errors.Is(err, core.ErrZeroTradingExpo),
		errors.Is(err, core.ErrTimestampTooOld):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrRefundFailed):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrZeroAmount),
		errors.Is(err, core.ErrAmountTooSmall),
		errors.Is(err, core.ErrLeverageTooLow),
		errors.Is(err, core.ErrLeverageTooHigh),
		errors.Is(err, core.ErrInvalidLiquidationPrice),
		errors.Is(err, core.ErrCloseExceedsPosition):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
