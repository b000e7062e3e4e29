package event

import "github.com/google/uuid"

// PositionOpenInitiated records the provisional side of an open: the
// target tick is chosen but the position is not yet in the book.
type PositionOpenInitiated struct {
	User        uuid.UUID `json:"user"`
	Tick        int32     `json:"tick"`
	TickVersion uint64    `json:"tick_version"`
	Amount      string    `json:"amount"`
	Timestamp   int64     `json:"timestamp"`
}

func (e *PositionOpenInitiated) Kind() Kind { return KindPositionOpenInitiated }

// PositionOpenValidated records a position entering the book, with the
// exposure recomputed against the validation price.
type PositionOpenValidated struct {
	User        uuid.UUID `json:"user"`
	Tick        int32     `json:"tick"`
	TickVersion uint64    `json:"tick_version"`
	Index       uint32    `json:"index"`
	Amount      string    `json:"amount"`
	TotalExpo   string    `json:"total_expo"`
	Timestamp   int64     `json:"timestamp"`
}

func (e *PositionOpenValidated) Kind() Kind { return KindPositionOpenValidated }

// PositionCloseInitiated records a position being lifted out of the book
// pending settlement.
type PositionCloseInitiated struct {
	User        uuid.UUID `json:"user"`
	Tick        int32     `json:"tick"`
	TickVersion uint64    `json:"tick_version"`
	Index       uint32    `json:"index"`
	Amount      string    `json:"amount"`
	TotalExpo   string    `json:"total_expo"`
	Timestamp   int64     `json:"timestamp"`
}

func (e *PositionCloseInitiated) Kind() Kind { return KindPositionCloseInitiated }

// PositionCloseValidated records the settled payout of a close. Payout is
// signed relative to the provisional transfer taken at initiation.
type PositionCloseValidated struct {
	User      uuid.UUID `json:"user"`
	To        uuid.UUID `json:"to"`
	Tick      int32     `json:"tick"`
	Payout    string    `json:"payout"`
	Timestamp int64     `json:"timestamp"`
}

func (e *PositionCloseValidated) Kind() Kind { return KindPositionCloseValidated }

// StalePendingActionRemoved records the opportunistic eviction of an
// OpenPosition action whose target tick was liquidated before validation.
type StalePendingActionRemoved struct {
	User        uuid.UUID `json:"user"`
	Tick        int32     `json:"tick"`
	TickVersion uint64    `json:"tick_version"`
	Timestamp   int64     `json:"timestamp"`
}

func (e *StalePendingActionRemoved) Kind() Kind { return KindStalePendingActionRemoved }

// PendingActionRemoved records an admin recovery of a blocked action.
type PendingActionRemoved struct {
	User      uuid.UUID `json:"user"`
	Action    string    `json:"action"`
	Cleanup   bool      `json:"cleanup"`
	Timestamp int64     `json:"timestamp"`
}

func (e *PendingActionRemoved) Kind() Kind { return KindPendingActionRemoved }
