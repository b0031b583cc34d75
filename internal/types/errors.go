package types

import "errors"

// Sentinel errors for the §7 error taxonomy. The executor classifies a
// handler failure into a per-tx outcome by wrapping one of these with
// fmt.Errorf("...: %w", err); nothing on this path panics.
var (
	// Validation
	ErrUnknownMarket     = errors.New("unknown market")
	ErrUnknownAsset      = errors.New("unknown asset")
	ErrInvalidTick       = errors.New("price is not a multiple of tick size")
	ErrSizeOutOfBounds   = errors.New("order size out of bounds")
	ErrSelfTransfer      = errors.New("cannot transfer to self")
	ErrNotTransferable   = errors.New("asset is not transferable")
	ErrInvalidMarketSpec = errors.New("invalid market configuration")

	// Authorization
	ErrBadSignature     = errors.New("signature does not recover to sender or an authorized agent")
	ErrNotAuthorized    = errors.New("signer lacks required permission")
	ErrAgentMustBeOwner = errors.New("SetAgent/RemoveAgent must be signed by the sender itself")
	ErrNotBridgeOperator = errors.New("signer is not a recognized bridge operator")

	// Nonce
	ErrNonceGap    = errors.New("nonce gap: transaction nonce does not match account nonce")
	ErrNonceReplay = errors.New("nonce replay: transaction nonce already used")

	// Risk
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInsufficientMargin     = errors.New("insufficient margin")
	ErrLeverageTooHigh        = errors.New("leverage exceeds market maximum")
	ErrReduceOnlyWouldIncrease = errors.New("reduce-only order would increase position")
	ErrPostOnlyWouldTake      = errors.New("post-only order would take liquidity")
	ErrOrderNotFilled         = errors.New("fill-or-kill order could not be fully filled")
	ErrMarketGTCInvalid       = errors.New("market orders must use IOC or FOK")
	ErrOrderNotFound          = errors.New("order not found")
	ErrNotOrderOwner          = errors.New("caller does not own order")

	// Liquidation
	ErrInvalidMarkPrice     = errors.New("invalid mark price")
	ErrPositionNotFound     = errors.New("position not found")
	ErrPositionNotLiquidatable = errors.New("position does not meet liquidation threshold")

	// Arithmetic
	ErrOverflow        = errors.New("arithmetic overflow")
	ErrDivisionByZero  = errors.New("division by zero")

	// Storage
	ErrStorage      = errors.New("storage failure")
	ErrSerialization = errors.New("serialization failure")

	// Transaction decoding
	ErrTxTooLarge   = errors.New("transaction exceeds maximum encoded size")
	ErrTxMalformed  = errors.New("transaction is malformed")

	// Mempool
	ErrMempoolFull      = errors.New("mempool at capacity")
	ErrDuplicateTx      = errors.New("transaction already in mempool")
	ErrSenderTxCapReached = errors.New("sender has reached its per-account transaction cap")
)
