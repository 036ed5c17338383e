package domain

import "errors"

// Pool precondition failures. Each one leaves the pool untouched.
var (
	ErrSendMoreFunds        = errors.New("send more funds")
	ErrInvalidBetValue      = errors.New("invalid bet value")
	ErrZeroBalance          = errors.New("zero balance")
	ErrNoReward             = errors.New("not yet funded: no reward")
	ErrMatchStarted         = errors.New("match already started")
	ErrUpkeepNotNeeded      = errors.New("upkeep not needed")
	ErrUnknownRequest       = errors.New("unknown or stale oracle request")
	ErrInsufficientFeeToken = errors.New("insufficient fee token balance")
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrPoolNotFound       = errors.New("pool not found")
	ErrUnauthorizedOracle = errors.New("fulfillment not signed by pool oracle")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrLockHeld           = errors.New("lock already held")
	ErrStaleSnapshot      = errors.New("snapshot older than stored version")
	ErrInsufficientFunds  = errors.New("insufficient wallet balance")
	ErrNotOwner           = errors.New("caller is not the pool owner")
	ErrNonceUsed          = errors.New("nonce already used")
)
