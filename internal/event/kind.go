// Package event defines the outbound events the engine emits for
// persistence and downstream consumers.
package event

// Kind discriminates event payloads.
type Kind int32

const (
	KindUnknown Kind = iota
	KindDepositInitiated
	KindDepositValidated
	KindWithdrawalInitiated
	KindWithdrawalValidated
	KindPositionOpenInitiated
	KindPositionOpenValidated
	KindPositionCloseInitiated
	KindPositionCloseValidated
	KindTickLiquidated
	KindHighestTickUpdated
	KindFundingApplied
	KindStalePendingActionRemoved
	KindPendingActionRemoved
	KindRebalancerTriggered
)

func (k Kind) String() string {
	switch k {
	case KindDepositInitiated:
		return "DepositInitiated"
	case KindDepositValidated:
		return "DepositValidated"
	case KindWithdrawalInitiated:
		return "WithdrawalInitiated"
	case KindWithdrawalValidated:
		return "WithdrawalValidated"
	case KindPositionOpenInitiated:
		return "PositionOpenInitiated"
	case KindPositionOpenValidated:
		return "PositionOpenValidated"
	case KindPositionCloseInitiated:
		return "PositionCloseInitiated"
	case KindPositionCloseValidated:
		return "PositionCloseValidated"
	case KindTickLiquidated:
		return "TickLiquidated"
	case KindHighestTickUpdated:
		return "HighestTickUpdated"
	case KindFundingApplied:
		return "FundingApplied"
	case KindStalePendingActionRemoved:
		return "StalePendingActionRemoved"
	case KindPendingActionRemoved:
		return "PendingActionRemoved"
	case KindRebalancerTriggered:
		return "RebalancerTriggered"
	default:
		return "Unknown"
	}
}

// Event is implemented by every payload type in this package.
type Event interface {
	Kind() Kind
}

// Envelope wraps an event for the persistence log and the outbound
// publisher. Sequence is assigned by the engine, monotonically.
type Envelope struct {
	Sequence  int64       `json:"sequence"`
	Kind      Kind        `json:"kind"`
	KindName  string      `json:"kind_name"`
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Wrap builds an envelope around a payload.
func Wrap(sequence, timestamp int64, e Event) Envelope {
	return Envelope{
		Sequence:  sequence,
		Kind:      e.Kind(),
		KindName:  e.Kind().String(),
		Timestamp: timestamp,
		Payload:   e,
	}
}
