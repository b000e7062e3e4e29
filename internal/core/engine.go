// Package core implements the serialized pool engine: funding, the
// liquidation sweep, the two-phase action lifecycle and the rebalancer
// trigger. One engine call is one atomic state transition; callers must
// serialize access.
package core

import (
	"math/big"

	"TickVault/internal/event"
	"TickVault/internal/hugeint"
	fpmath "TickVault/internal/math"
	"TickVault/internal/observability"
	"TickVault/internal/oracle"
	"TickVault/internal/state"
	"TickVault/internal/tick"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// AssetCustody moves value in and out of the pool. The engine only tracks
// accounting balances; transfers either fully succeed or the enclosing
// operation is aborted.
type AssetCustody interface {
	// TransferIn pulls collateral from a user into the pool.
	TransferIn(user uuid.UUID, amount *uint256.Int) error
	// TransferOut pays collateral out of the pool.
	TransferOut(to uuid.UUID, amount *uint256.Int) error
	// MintShares issues stable-token shares to a recipient.
	MintShares(to uuid.UUID, shares *uint256.Int) error
	// EscrowShares locks a user's stable-token shares pending withdrawal.
	EscrowShares(user uuid.UUID, shares *uint256.Int) error
	// BurnEscrowedShares destroys previously escrowed shares.
	BurnEscrowedShares(shares *uint256.Int) error
	// ReturnEscrowedShares hands escrowed shares back (failed withdrawal).
	ReturnEscrowedShares(to uuid.UUID, shares *uint256.Int) error
	// RefundSecurityDeposit returns an action's security deposit.
	RefundSecurityDeposit(to uuid.UUID, amount *uint256.Int) error
}

// Rebalancer is the designated imbalance-correcting actor. Nil-safe: an
// engine without a registered rebalancer skips the trigger entirely.
type Rebalancer interface {
	// PendingAssets reports collateral the rebalancer has staged for its
	// next position.
	PendingAssets() *uint256.Int
	// MaxLeverage is the rebalancer's own leverage cap, at leverage scale.
	MaxLeverage() *uint256.Int
	// CurrentPosition returns the live position assigned to the
	// rebalancer, if any.
	CurrentPosition() (state.PositionID, bool)
	// NotifyPositionAssigned hands the rebalancer its new position.
	NotifyPositionAssigned(id state.PositionID, amount *uint256.Int)
}

// Output pairs an event envelope with the sequence it was assigned,
// flowing to the persistence worker and the outbound publisher.
type Output struct {
	Envelope event.Envelope
}

// Engine is the single-threaded accounting core.
type Engine struct {
	params  state.Params
	storage *state.Storage
	book    *state.Book
	queue   *state.PendingQueue

	oracle     oracle.PriceOracle
	custody    AssetCustody
	rebalancer Rebalancer

	sequence int64
	logger   zerolog.Logger
	metrics  *observability.Metrics

	persistChan chan<- Output
	publishChan chan<- Output
}

// Config wires an engine's collaborators.
type Config struct {
	Params      state.Params
	Storage     *state.Storage
	Oracle      oracle.PriceOracle
	Custody     AssetCustody
	Rebalancer  Rebalancer
	Metrics     *observability.Metrics
	PersistChan chan<- Output
	PublishChan chan<- Output
	// StartSequence resumes event numbering after a restart.
	StartSequence int64
	// Book and Queue, when non-nil, replace the fresh ones. Set on
	// snapshot restore.
	Book  *state.Book
	Queue *state.PendingQueue
}

// NewEngine builds an engine around an existing storage block (fresh or
// restored from a snapshot).
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	book := cfg.Book
	if book == nil {
		book = state.NewBook(cfg.Params.TickSpacing)
	}
	queue := cfg.Queue
	if queue == nil {
		queue = state.NewPendingQueue()
	}
	return &Engine{
		params:      cfg.Params,
		storage:     cfg.Storage,
		book:        book,
		queue:       queue,
		oracle:      cfg.Oracle,
		custody:     cfg.Custody,
		rebalancer:  cfg.Rebalancer,
		sequence:    cfg.StartSequence,
		logger:      observability.NewLogger("engine"),
		metrics:     cfg.Metrics,
		persistChan: cfg.PersistChan,
		publishChan: cfg.PublishChan,
	}, nil
}

// Storage exposes the state block for queries and snapshots.
func (e *Engine) Storage() *state.Storage { return e.storage }

// Book exposes the tick book for queries.
func (e *Engine) Book() *state.Book { return e.book }

// Queue exposes the pending-action queue for queries.
func (e *Engine) Queue() *state.PendingQueue { return e.queue }

// Params returns the engine's configuration.
func (e *Engine) Params() state.Params { return e.params }

// Sequence returns the next event sequence to be assigned.
func (e *Engine) Sequence() int64 { return e.sequence }

// emit assigns a sequence and sends the event downstream. The persist
// channel is a blocking send (backpressure, no event lost); the publish
// channel is non-blocking with drop (consumers rebuild from the log).
func (e *Engine) emit(timestamp int64, ev event.Event) {
	out := Output{Envelope: event.Wrap(e.sequence, timestamp, ev)}
	e.sequence++

	if e.persistChan != nil {
		e.persistChan <- out
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}
	if e.metrics != nil {
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}
}

// multiplier returns the current fixed-precision liquidation multiplier
// against a reference price.
func (e *Engine) multiplier(referencePrice *uint256.Int) *uint256.Int {
	return fpmath.FixedPrecisionMultiplier(e.storage.Accumulator, e.storage.LongTradingExpo(), referencePrice)
}

// effectiveTickPrice converts a tick's unadjusted price (without penalty)
// into the current funding-adjusted liquidation price.
func (e *Engine) effectiveTickPrice(t int32, penalty uint8, mult *uint256.Int) (*uint256.Int, error) {
	unadj, err := tick.PriceAtTick(tick.WithoutPenalty(t, penalty, e.params.TickSpacing))
	if err != nil {
		return nil, err
	}
	return fpmath.AdjustPrice(unadj, mult), nil
}

// addToAccumulator adds a tick contribution to the 512-bit accumulator:
// price(tick - penalty) * expo.
func (e *Engine) addToAccumulator(t int32, penalty uint8, expo *uint256.Int) error {
	unadj, err := tick.PriceAtTick(tick.WithoutPenalty(t, penalty, e.params.TickSpacing))
	if err != nil {
		return err
	}
	e.storage.Accumulator = e.storage.Accumulator.Add(hugeint.Mul256(unadj, expo))
	return nil
}

// subFromAccumulator removes a tick contribution (close or liquidation).
func (e *Engine) subFromAccumulator(t int32, penalty uint8, expo *uint256.Int) error {
	unadj, err := tick.PriceAtTick(tick.WithoutPenalty(t, penalty, e.params.TickSpacing))
	if err != nil {
		return err
	}
	e.storage.Accumulator = e.storage.Accumulator.Sub(hugeint.Mul256(unadj, expo))
	return nil
}

// positionFee computes the protocol fee on a notional amount, credited to
// the vault side.
func (e *Engine) positionFee(amount *uint256.Int) *uint256.Int {
	if e.params.PositionFeeBps == 0 {
		return new(uint256.Int)
	}
	f := new(uint256.Int).Mul(amount, uint256.NewInt(uint64(e.params.PositionFeeBps)))
	return f.Div(f, uint256.NewInt(fpmath.BPSDivisor))
}

// updateStateGauges refreshes the float-approximation gauges after a
// state transition.
func (e *Engine) updateStateGauges() {
	if e.metrics == nil {
		return
	}
	e.metrics.BalanceLong.Set(u256Float(e.storage.BalanceLong))
	e.metrics.BalanceVault.Set(u256Float(e.storage.BalanceVault))
	e.metrics.TotalExpo.Set(u256Float(e.storage.TotalExpo))
	e.metrics.StableTotalShares.Set(u256Float(e.storage.StableTotalShares))
	e.metrics.HighestPopulatedTick.Set(float64(e.book.HighestPopulatedTick()))
	e.metrics.PendingActions.Set(float64(e.queue.Len()))
}

func u256Float(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
