package event

import "github.com/google/uuid"

// DepositInitiated records the first phase of a vault deposit. Amounts are
// decimal strings: values may exceed 64 bits.
type DepositInitiated struct {
	User      uuid.UUID `json:"user"`
	To        uuid.UUID `json:"to"`
	Amount    string    `json:"amount"`
	Timestamp int64     `json:"timestamp"`
}

func (e *DepositInitiated) Kind() Kind { return KindDepositInitiated }

// DepositValidated records the share mint completing a deposit.
type DepositValidated struct {
	User         uuid.UUID `json:"user"`
	To           uuid.UUID `json:"to"`
	Amount       string    `json:"amount"`
	SharesMinted string    `json:"shares_minted"`
	Timestamp    int64     `json:"timestamp"`
}

func (e *DepositValidated) Kind() Kind { return KindDepositValidated }

// WithdrawalInitiated records the first phase of a share redemption.
type WithdrawalInitiated struct {
	User      uuid.UUID `json:"user"`
	To        uuid.UUID `json:"to"`
	Shares    string    `json:"shares"`
	Timestamp int64     `json:"timestamp"`
}

func (e *WithdrawalInitiated) Kind() Kind { return KindWithdrawalInitiated }

// WithdrawalValidated records the asset payout completing a redemption.
type WithdrawalValidated struct {
	User      uuid.UUID `json:"user"`
	To        uuid.UUID `json:"to"`
	Shares    string    `json:"shares"`
	Assets    string    `json:"assets"`
	Timestamp int64     `json:"timestamp"`
}

func (e *WithdrawalValidated) Kind() Kind { return KindWithdrawalValidated }
