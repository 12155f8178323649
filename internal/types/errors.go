package types

import "errors"

// Sentinel errors for the simulation engine.
var (
	// Order errors
	ErrInvalidOrder   = errors.New("invalid order")
	ErrOrderNotFound  = errors.New("order not found")
	ErrOrderFinal     = errors.New("order already in terminal state")
	ErrDuplicateOrder = errors.New("duplicate order id")

	// Ledger errors
	ErrLedgerInconsistent = errors.New("ledger inconsistency: fill exceeds open quantity")
	ErrInstrumentHalted   = errors.New("instrument halted after ledger inconsistency")

	// Data errors
	ErrInvalidData  = errors.New("invalid market data")
	ErrInvalidPrice = errors.New("invalid price value")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
)
