package types

import (
	errorsmod "cosmossdk.io/errors"
)

// Codespace groups every error registered by the agent.
const Codespace = "scrtgate"

var (
	ErrStorage             = errorsmod.Register(Codespace, 2, "storage failure")
	ErrGeneration          = errorsmod.Register(Codespace, 3, "generation failed")
	ErrBroadcast           = errorsmod.Register(Codespace, 4, "broadcast failed")
	ErrConfirmationUnknown = errorsmod.Register(Codespace, 5, "confirmation status unknown")
	ErrConfig              = errorsmod.Register(Codespace, 6, "invalid configuration")
	ErrInvalidUser         = errorsmod.Register(Codespace, 7, "invalid user id")
	ErrTradeInFlight       = errorsmod.Register(Codespace, 8, "trade already in flight")
	ErrChainQuery          = errorsmod.Register(Codespace, 9, "chain query failed")
)
