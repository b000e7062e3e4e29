package event

// TickLiquidated is emitted once per tick cleared by a sweep. TickValue is
// signed: positive collateral flowed long to vault, negative the reverse.
type TickLiquidated struct {
	Tick        int32  `json:"tick"`
	TickVersion uint64 `json:"tick_version"`
	Positions   uint32 `json:"positions"`
	TotalExpo   string `json:"total_expo"`
	TickValue   string `json:"tick_value"`
	Price       string `json:"price"`
	Timestamp   int64  `json:"timestamp"`
}

func (e *TickLiquidated) Kind() Kind { return KindTickLiquidated }

// HighestTickUpdated is emitted at most once per sweep, carrying the final
// high-water mark.
type HighestTickUpdated struct {
	Tick      int32 `json:"tick"`
	Timestamp int64 `json:"timestamp"`
}

func (e *HighestTickUpdated) Kind() Kind { return KindHighestTickUpdated }

// FundingApplied records a funding/PnL application to the balances.
type FundingApplied struct {
	FundingPerDay     string `json:"funding_per_day"`
	CumulativeFunding string `json:"cumulative_funding"`
	EMA               string `json:"ema"`
	BalanceLong       string `json:"balance_long"`
	BalanceVault      string `json:"balance_vault"`
	Price             string `json:"price"`
	Timestamp         int64  `json:"timestamp"`
}

func (e *FundingApplied) Kind() Kind { return KindFundingApplied }

// RebalancerTriggered records an imbalance correction: the rebalancer's
// prior position value returned to the vault and the new position opened.
type RebalancerTriggered struct {
	ImbalanceBps   int64  `json:"imbalance_bps"`
	ClosedValue    string `json:"closed_value"`
	OpenedAmount   string `json:"opened_amount"`
	OpenedLeverage string `json:"opened_leverage"`
	Bonus          string `json:"bonus"`
	Timestamp      int64  `json:"timestamp"`
}

func (e *RebalancerTriggered) Kind() Kind { return KindRebalancerTriggered }
