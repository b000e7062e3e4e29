package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"TickVault/internal/core"
	"TickVault/internal/hugeint"
	"TickVault/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// SnapshotData is the full engine state at a sequence boundary, JSON-encoded
// into tickvault.snapshots. Balances and exposures are decimal strings so
// the 256-bit magnitudes survive the round-trip.
type SnapshotData struct {
	Sequence  int64        `json:"sequence"`
	StateHash []byte       `json:"state_hash"`
	Storage   StorageSnap  `json:"storage"`
	Book      BookSnap     `json:"book"`
	Pending   []ActionSnap `json:"pending"`
	CreatedAt time.Time    `json:"created_at"`
}

// StorageSnap mirrors state.Storage.
type StorageSnap struct {
	BalanceLong         string `json:"balance_long"`
	BalanceVault        string `json:"balance_vault"`
	TotalExpo           string `json:"total_expo"`
	LastPrice           string `json:"last_price"`
	LastUpdateTimestamp int64  `json:"last_update_timestamp"`
	EMA                 string `json:"ema"`
	LastFundingPerDay   string `json:"last_funding_per_day"`
	Accumulator         string `json:"accumulator"`
	PendingBalanceVault string `json:"pending_balance_vault"`
	StableTotalShares   string `json:"stable_total_shares"`
}

// BookSnap mirrors the tick book, retired-tick versions included.
type BookSnap struct {
	Ticks                []TickSnap        `json:"ticks"`
	Versions             []TickVersionSnap `json:"versions"`
	HighestPopulatedTick int32             `json:"highest_populated_tick"`
}

type TickSnap struct {
	Tick               int32          `json:"tick"`
	Version            uint64         `json:"version"`
	LiquidationPenalty uint8          `json:"liquidation_penalty"`
	Positions          []PositionSnap `json:"positions"`
}

type PositionSnap struct {
	Index     uint32 `json:"index"`
	User      string `json:"user"`
	Amount    string `json:"amount"`
	TotalExpo string `json:"total_expo"`
	Timestamp int64  `json:"timestamp"`
}

type TickVersionSnap struct {
	Tick    int32  `json:"tick"`
	Version uint64 `json:"version"`
}

// ActionSnap is one queued pending action; the kind field selects which of
// the optional fields are set.
type ActionSnap struct {
	Kind            string `json:"kind"`
	User            string `json:"user"`
	To              string `json:"to"`
	Validator       string `json:"validator"`
	Timestamp       int64  `json:"timestamp"`
	SecurityDeposit string `json:"security_deposit"`

	Amount          string `json:"amount,omitempty"`
	Shares          string `json:"shares,omitempty"`
	BalanceVault    string `json:"balance_vault,omitempty"`
	TotalShares     string `json:"total_shares,omitempty"`
	Tick            int32  `json:"tick,omitempty"`
	TickVersion     uint64 `json:"tick_version,omitempty"`
	DesiredLiqPrice string `json:"desired_liq_price,omitempty"`
	TotalExpo       string `json:"total_expo,omitempty"`
	LiqMultiplier   string `json:"liq_multiplier,omitempty"`
	TempTransfer    string `json:"temp_transfer,omitempty"`
}

// BuildSnapshot captures the engine's state. The caller must hold the same
// serialization the engine's operations run under, and stateHash must be
// the chain tip covering every event up to the engine's sequence.
func BuildSnapshot(e *core.Engine, stateHash [32]byte) *SnapshotData {
	s := e.Storage().Snapshot()
	snap := &SnapshotData{
		Sequence:  e.Sequence(),
		StateHash: stateHash[:],
		Storage: StorageSnap{
			BalanceLong:         s.BalanceLong.Dec(),
			BalanceVault:        s.BalanceVault.Dec(),
			TotalExpo:           s.TotalExpo.Dec(),
			LastPrice:           s.LastPrice.Dec(),
			LastUpdateTimestamp: s.LastUpdateTimestamp,
			EMA:                 s.EMA.String(),
			LastFundingPerDay:   s.LastFundingPerDay.String(),
			Accumulator:         s.Accumulator.String(),
			PendingBalanceVault: s.PendingBalanceVault.String(),
			StableTotalShares:   s.StableTotalShares.Dec(),
		},
		CreatedAt: time.Now().UTC(),
	}

	exp := e.Book().Export()
	snap.Book.HighestPopulatedTick = exp.Highest
	for t, v := range exp.Versions {
		snap.Book.Versions = append(snap.Book.Versions, TickVersionSnap{Tick: t, Version: v})
	}
	for _, te := range exp.Ticks {
		ts := TickSnap{
			Tick:               te.Tick,
			Version:            te.Version,
			LiquidationPenalty: te.LiquidationPenalty,
		}
		for _, slot := range te.Slots {
			ts.Positions = append(ts.Positions, PositionSnap{
				Index:     slot.Index,
				User:      slot.Position.User.String(),
				Amount:    slot.Position.Amount.Dec(),
				TotalExpo: slot.Position.TotalExpo.Dec(),
				Timestamp: slot.Position.Timestamp,
			})
		}
		snap.Book.Ticks = append(snap.Book.Ticks, ts)
	}

	for _, a := range e.Queue().All() {
		snap.Pending = append(snap.Pending, encodeAction(a))
	}
	return snap
}

func encodeAction(a state.PendingAction) ActionSnap {
	info := a.Info()
	out := ActionSnap{
		Kind:            a.Kind().String(),
		User:            info.User.String(),
		To:              info.To.String(),
		Validator:       info.Validator.String(),
		Timestamp:       info.Timestamp,
		SecurityDeposit: info.SecurityDeposit.Dec(),
	}
	switch v := a.(type) {
	case *state.DepositAction:
		out.Amount = v.Amount.Dec()
		out.BalanceVault = v.BalanceVault.Dec()
		out.TotalShares = v.TotalShares.Dec()
	case *state.WithdrawalAction:
		out.Shares = v.Shares.Dec()
		out.BalanceVault = v.BalanceVault.Dec()
		out.TotalShares = v.TotalShares.Dec()
	case *state.OpenPositionAction:
		out.Amount = v.Amount.Dec()
		out.Tick = v.Tick
		out.TickVersion = v.TickVersion
		out.DesiredLiqPrice = v.DesiredLiqPrice.Dec()
	case *state.ClosePositionAction:
		out.Tick = v.Tick
		out.TickVersion = v.TickVersion
		out.Amount = v.Amount.Dec()
		out.TotalExpo = v.TotalExpo.Dec()
		out.LiqMultiplier = v.LiqMultiplier.Dec()
		out.TempTransfer = v.TempTransfer.String()
	}
	return out
}

// Restore rebuilds the storage block, the book and the pending queue from
// the snapshot. The tick spacing must match the one the snapshot was taken
// under.
func (snap *SnapshotData) Restore(tickSpacing int32) (*state.Storage, *state.Book, *state.PendingQueue, error) {
	storage, err := snap.restoreStorage()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("restore storage: %w", err)
	}

	exp := state.BookExport{
		Versions: make(map[int32]uint64, len(snap.Book.Versions)),
		Highest:  snap.Book.HighestPopulatedTick,
	}
	for _, tv := range snap.Book.Versions {
		exp.Versions[tv.Tick] = tv.Version
	}
	for _, ts := range snap.Book.Ticks {
		te := state.TickExport{
			Tick:               ts.Tick,
			Version:            ts.Version,
			LiquidationPenalty: ts.LiquidationPenalty,
		}
		for _, ps := range ts.Positions {
			user, err := uuid.Parse(ps.User)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("restore position user: %w", err)
			}
			amount, err := parseU256(ps.Amount)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("restore position amount: %w", err)
			}
			expo, err := parseU256(ps.TotalExpo)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("restore position expo: %w", err)
			}
			te.Slots = append(te.Slots, state.ArenaSlot{
				Index: ps.Index,
				Position: &state.Position{
					User:      user,
					Amount:    amount,
					TotalExpo: expo,
					Timestamp: ps.Timestamp,
				},
			})
		}
		exp.Ticks = append(exp.Ticks, te)
	}
	book, err := state.RestoreBook(tickSpacing, exp)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("restore book: %w", err)
	}

	actions := make([]state.PendingAction, 0, len(snap.Pending))
	for i, as := range snap.Pending {
		a, err := decodeAction(as)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("restore pending action %d: %w", i, err)
		}
		actions = append(actions, a)
	}
	queue, err := state.RestorePendingQueue(actions)
	if err != nil {
		return nil, nil, nil, err
	}

	return storage, book, queue, nil
}

func (snap *SnapshotData) restoreStorage() (*state.Storage, error) {
	ss := snap.Storage
	balanceLong, err := parseU256(ss.BalanceLong)
	if err != nil {
		return nil, err
	}
	balanceVault, err := parseU256(ss.BalanceVault)
	if err != nil {
		return nil, err
	}
	totalExpo, err := parseU256(ss.TotalExpo)
	if err != nil {
		return nil, err
	}
	lastPrice, err := parseU256(ss.LastPrice)
	if err != nil {
		return nil, err
	}
	ema, err := parseBig(ss.EMA)
	if err != nil {
		return nil, err
	}
	funding, err := parseBig(ss.LastFundingPerDay)
	if err != nil {
		return nil, err
	}
	accBig, err := parseBig(ss.Accumulator)
	if err != nil {
		return nil, err
	}
	acc, err := hugeint.FromBig(accBig)
	if err != nil {
		return nil, err
	}
	pendingVault, err := parseBig(ss.PendingBalanceVault)
	if err != nil {
		return nil, err
	}
	shares, err := parseU256(ss.StableTotalShares)
	if err != nil {
		return nil, err
	}
	return &state.Storage{
		BalanceLong:         balanceLong,
		BalanceVault:        balanceVault,
		TotalExpo:           totalExpo,
		LastPrice:           lastPrice,
		LastUpdateTimestamp: ss.LastUpdateTimestamp,
		EMA:                 ema,
		LastFundingPerDay:   funding,
		Accumulator:         acc,
		PendingBalanceVault: pendingVault,
		StableTotalShares:   shares,
	}, nil
}

func decodeAction(as ActionSnap) (state.PendingAction, error) {
	user, err := uuid.Parse(as.User)
	if err != nil {
		return nil, err
	}
	to, err := uuid.Parse(as.To)
	if err != nil {
		return nil, err
	}
	validator, err := uuid.Parse(as.Validator)
	if err != nil {
		return nil, err
	}
	deposit, err := parseU256(as.SecurityDeposit)
	if err != nil {
		return nil, err
	}
	info := state.ActionInfo{
		User:            user,
		To:              to,
		Validator:       validator,
		Timestamp:       as.Timestamp,
		SecurityDeposit: deposit,
	}

	switch as.Kind {
	case "deposit":
		amount, err := parseU256(as.Amount)
		if err != nil {
			return nil, err
		}
		vault, err := parseU256(as.BalanceVault)
		if err != nil {
			return nil, err
		}
		shares, err := parseU256(as.TotalShares)
		if err != nil {
			return nil, err
		}
		return &state.DepositAction{ActionInfo: info, Amount: amount, BalanceVault: vault, TotalShares: shares}, nil
	case "withdrawal":
		shares, err := parseU256(as.Shares)
		if err != nil {
			return nil, err
		}
		vault, err := parseU256(as.BalanceVault)
		if err != nil {
			return nil, err
		}
		total, err := parseU256(as.TotalShares)
		if err != nil {
			return nil, err
		}
		return &state.WithdrawalAction{ActionInfo: info, Shares: shares, BalanceVault: vault, TotalShares: total}, nil
	case "open_position":
		amount, err := parseU256(as.Amount)
		if err != nil {
			return nil, err
		}
		liq, err := parseU256(as.DesiredLiqPrice)
		if err != nil {
			return nil, err
		}
		return &state.OpenPositionAction{
			ActionInfo:      info,
			Amount:          amount,
			Tick:            as.Tick,
			TickVersion:     as.TickVersion,
			DesiredLiqPrice: liq,
		}, nil
	case "close_position":
		amount, err := parseU256(as.Amount)
		if err != nil {
			return nil, err
		}
		expo, err := parseU256(as.TotalExpo)
		if err != nil {
			return nil, err
		}
		mult, err := parseU256(as.LiqMultiplier)
		if err != nil {
			return nil, err
		}
		temp, err := parseBig(as.TempTransfer)
		if err != nil {
			return nil, err
		}
		return &state.ClosePositionAction{
			ActionInfo:    info,
			Tick:          as.Tick,
			TickVersion:   as.TickVersion,
			Amount:        amount,
			TotalExpo:     expo,
			LiqMultiplier: mult,
			TempTransfer:  temp,
		}, nil
	default:
		return nil, fmt.Errorf("unknown pending action kind %q", as.Kind)
	}
}

func parseU256(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(s)
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

// SnapshotManager persists and loads snapshots.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot upserts a snapshot keyed by its sequence.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO tickvault.snapshots
			(snapshot_id, sequence, data, state_hash, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $5
	`, uuid.New(), snap.Sequence, data, snap.StateHash, len(data), snap.CreatedAt)
	return err
}

// LoadLatestSnapshot returns the most recent snapshot, or nil on a cold
// start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM tickvault.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
