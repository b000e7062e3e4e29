// Package query serves read-only views of the engine state. Reads take the
// same mutex that serializes engine commands, so a response is always a
// consistent post-transition view.
package query

import (
	"context"
	"database/sql"
	"sync"

	"TickVault/internal/core"
	"TickVault/internal/state"

	"github.com/google/uuid"
)

// Service answers queries directly from the in-memory engine state. The
// optional db enables event-log integrity checks.
type Service struct {
	mu     *sync.Mutex
	engine *core.Engine
	db     *sql.DB
}

// NewService builds a query service sharing the engine's command mutex.
func NewService(mu *sync.Mutex, engine *core.Engine, db *sql.DB) *Service {
	return &Service{mu: mu, engine: engine, db: db}
}

// Pool returns the aggregate pool state.
func (s *Service) Pool() PoolResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.engine.Storage()
	return PoolResponse{
		BalanceLong:          st.BalanceLong.Dec(),
		BalanceVault:         st.BalanceVault.Dec(),
		TotalExpo:            st.TotalExpo.Dec(),
		LongTradingExpo:      st.LongTradingExpo().Dec(),
		VaultAvailable:       st.VaultAvailable().Dec(),
		PendingBalanceVault:  st.PendingBalanceVault.String(),
		StableTotalShares:    st.StableTotalShares.Dec(),
		LastPrice:            st.LastPrice.Dec(),
		LastUpdateTimestamp:  st.LastUpdateTimestamp,
		FundingPerDay:        st.LastFundingPerDay.String(),
		FundingEMA:           st.EMA.String(),
		HighestPopulatedTick: s.engine.Book().HighestPopulatedTick(),
		PendingActions:       s.engine.Queue().Len(),
		AsOfSequence:         s.engine.Sequence(),
	}
}

// Tick returns a populated tick's aggregate data.
func (s *Service) Tick(t int32) (TickResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	td, err := s.engine.Book().TickData(t)
	if err != nil {
		return TickResponse{}, err
	}
	return TickResponse{
		Tick:               t,
		Version:            s.engine.Book().TickVersion(t),
		TotalExpo:          td.TotalExpo.Dec(),
		TotalPositions:     td.TotalPositions,
		LiquidationPenalty: td.LiquidationPenalty,
		AsOfSequence:       s.engine.Sequence(),
	}, nil
}

// Position resolves a position handle. Stale handles (liquidated or closed)
// fail with state.ErrStalePosition.
func (s *Service) Position(id state.PositionID) (PositionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, err := s.engine.Book().Position(id)
	if err != nil {
		return PositionResponse{}, err
	}
	return PositionResponse{
		Tick:         id.Tick,
		Version:      id.Version,
		Index:        id.Index,
		User:         pos.User.String(),
		Amount:       pos.Amount.Dec(),
		TotalExpo:    pos.TotalExpo.Dec(),
		Timestamp:    pos.Timestamp,
		AsOfSequence: s.engine.Sequence(),
	}, nil
}

// Pending returns a user's queued action, or state.ErrNoPendingAction.
func (s *Service) Pending(user uuid.UUID) (PendingResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, _, err := s.engine.Queue().Require(user)
	if err != nil {
		return PendingResponse{}, err
	}
	info := a.Info()
	return PendingResponse{
		Kind:            a.Kind().String(),
		User:            info.User.String(),
		To:              info.To.String(),
		Validator:       info.Validator.String(),
		Timestamp:       info.Timestamp,
		SecurityDeposit: info.SecurityDeposit.Dec(),
		AsOfSequence:    s.engine.Sequence(),
	}, nil
}

// VerifyIntegrity checks hash-chain continuity over the event log: each
// event's prev_hash must equal its predecessor's state_hash.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}
	if s.db == nil {
		report.IsHealthy = true
		return report, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM tickvault.events e1
		JOIN tickvault.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var latest sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM tickvault.events`,
	).Scan(&latest); err != nil {
		return nil, err
	}
	if latest.Valid {
		report.LatestSequence = latest.Int64
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}
