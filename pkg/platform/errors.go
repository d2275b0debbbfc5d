package platform

import "errors"

// Every rejected operation names the precondition it violated.
var (
	// registration
	ErrInvalidReferral   = errors.New("referrer is not registered")
	ErrAlreadyRegistered = errors.New("participant is already registered")
	ErrNotRegistered     = errors.New("only registered participants can buy")

	// round state machine
	ErrRoundAlreadyActive    = errors.New("sale round is already active")
	ErrTradeRoundNotOver     = errors.New("trade round is not over")
	ErrSaleRoundNotStarted   = errors.New("sale round has not started")
	ErrSaleRoundOver         = errors.New("sale round is over")
	ErrSaleRoundNotOver      = errors.New("sale round is not over")
	ErrCannotStartTradeRound = errors.New("cannot start trade round before the first sale round")
	ErrTradeRoundOver        = errors.New("trade round is over")

	// sale
	ErrInsufficientFunds = errors.New("payment is below one unit price")
	ErrAllSold           = errors.New("all tokens are sold")

	// orders
	ErrNoSuchOrder   = errors.New("no such order")
	ErrNotOwner      = errors.New("caller does not own the order")
	ErrInvalidVolume = errors.New("requested volume exceeds order remainder")
	ErrOrderClosed   = errors.New("order is closed")

	// administration
	ErrUnauthorized = errors.New("only the governance dispatcher can perform this operation")
)
