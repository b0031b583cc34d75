package rpc

// DTOs for the REST/JSON translation layer: flat, JSON-tagged structs over
// this engine's asset-indexed market/position/balance model.

// MarketInfo describes one registered perpetual market.
type MarketInfo struct {
	ID                   uint32 `json:"id"`
	Symbol               string `json:"symbol"`
	BaseAsset            uint32 `json:"baseAsset"`
	QuoteAsset           uint32 `json:"quoteAsset"`
	TickSize             uint64 `json:"tickSize"`
	MinOrderSize         uint64 `json:"minOrderSize"`
	MaxOrderSize         uint64 `json:"maxOrderSize"`
	MaxLeverage          uint32 `json:"maxLeverage"`
	InitialMarginBps     uint32 `json:"initialMarginBps"`
	MaintenanceMarginBps uint32 `json:"maintenanceMarginBps"`
	LiquidationFeeBps    uint32 `json:"liquidationFeeBps"`
	FundingIntervalSecs  uint64 `json:"fundingIntervalSecs"`
}

// PriceLevel is one aggregated depth point.
type PriceLevel struct {
	Price uint64 `json:"price"`
	Size  uint64 `json:"size"`
}

// OrderbookSnapshot is a depth-limited view of one market's resting orders.
type OrderbookSnapshot struct {
	Market int64        `json:"market"`
	Bids   []PriceLevel `json:"bids"`
	Asks   []PriceLevel `json:"asks"`
}

// AccountInfo reports one address's balance in a single asset.
type AccountInfo struct {
	Address string `json:"address"`
	Asset   uint32 `json:"asset"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// PositionInfo mirrors internal/position.Position for JSON transport.
type PositionInfo struct {
	Owner         string `json:"owner"`
	Market        uint32 `json:"market"`
	Side          string `json:"side"`
	Size          uint64 `json:"size"`
	EntryPrice    uint64 `json:"entryPrice"`
	Margin        string `json:"margin"`
	UnrealizedPnL string `json:"unrealizedPnl,omitempty"`
	IsProfit      bool   `json:"isProfit,omitempty"`
}

// ChainStatus reports head height/root and mempool occupancy.
type ChainStatus struct {
	Height      uint64 `json:"height"`
	StateRoot   string `json:"stateRoot"`
	MempoolSize int    `json:"mempoolSize"`
}

// SubmitTxRequest carries one already-signed, already-encoded transaction.
type SubmitTxRequest struct {
	Raw string `json:"raw"` // hex-encoded tx.Transaction.Encode() output
}

type SubmitTxResponse struct {
	Hash string `json:"hash"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// --- Block execution RPC (consensus -> core) ---

type InitChainRequest struct {
	ChainID       string `json:"chainId"`
	InitialHeight uint64 `json:"initialHeight"`
}

type InitChainResponse struct {
	StateRoot string `json:"stateRoot"`
	MaxBytes  int    `json:"maxBytes"`
}

type GetTxsResponse struct {
	Txs []string `json:"txs"` // hex-encoded
}

type ExecuteTxsRequest struct {
	Height    uint64   `json:"height"`
	Timestamp int64    `json:"timestamp"`
	Txs       []string `json:"txs"` // hex-encoded
}

type TxResult struct {
	Hash  string `json:"hash"`
	Error string `json:"error,omitempty"`
}

type ExecuteTxsResponse struct {
	StateRoot string     `json:"stateRoot"`
	Results   []TxResult `json:"results"`
}

type SetFinalRequest struct {
	Height uint64 `json:"height"`
}

// --- Keeper-invoked risk operations ---

// UpdateFundingRequest recomputes and persists one market's funding rate
// from an externally-sourced mark/oracle price pair. Mark-price/oracle
// feed delivery itself is out of scope for the core; this endpoint is the
// admin/oracle-feed interface an off-chain keeper calls into.
type UpdateFundingRequest struct {
	Height uint64 `json:"height"`
	Market uint32 `json:"market"`
	Mark   uint64 `json:"mark"`
	Oracle uint64 `json:"oracle"`
	Now    uint64 `json:"now"` // unix seconds
}

type UpdateFundingResponse struct {
	RateBps         int64  `json:"rateBps"`
	CumulativeIndex string `json:"cumulativeIndex"`
}

// LiquidateRequest liquidates a single trader's position in a market at
// an externally-sourced mark price.
type LiquidateRequest struct {
	Height     uint64 `json:"height"`
	Market     uint32 `json:"market"`
	Trader     string `json:"trader"`
	MarkPrice  uint64 `json:"markPrice"`
	Liquidator string `json:"liquidator"`
}

// LiquidationResultDTO mirrors internal/liquidation.Result for JSON
// transport; a nil *LiquidationResultDTO in LiquidateResponse means the
// position no longer met the liquidation threshold.
type LiquidationResultDTO struct {
	Trader                    string `json:"trader"`
	Market                    uint32 `json:"market"`
	LiquidatedSize            uint64 `json:"liquidatedSize"`
	LiquidationPrice          uint64 `json:"liquidationPrice"`
	LiquidationFee            string `json:"liquidationFee"`
	RemainingEquity           string `json:"remainingEquity"`
	Liquidator                string `json:"liquidator"`
	LiquidatorReward          string `json:"liquidatorReward"`
	InsuranceFundContribution string `json:"insuranceFundContribution"`
	InsuranceFundUsage        string `json:"insuranceFundUsage"`
}

type LiquidateResponse struct {
	Result *LiquidationResultDTO `json:"result"`
}

// LiquidationBatchRequest processes up to MaxLiquidations at-risk
// candidates ranked by the per-market risk index.
type LiquidationBatchRequest struct {
	Height          uint64 `json:"height"`
	Market          uint32 `json:"market"`
	MarkPrice       uint64 `json:"markPrice"`
	Liquidator      string `json:"liquidator"`
	MaxLiquidations int    `json:"maxLiquidations"`
}

type LiquidationBatchResponse struct {
	Results []LiquidationResultDTO `json:"results"`
}
