package platform

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type RoundKind int

const (
	RoundNone RoundKind = iota
	RoundSale
	RoundTrade
)

func (k RoundKind) String() string {
	switch k {
	case RoundSale:
		return "sale"
	case RoundTrade:
		return "trade"
	default:
		return "none"
	}
}

// Round is the current phase of the engine. At most one round is active;
// the sequence strictly alternates sale/trade.
type Round struct {
	Kind     RoundKind
	Start    time.Time
	Duration time.Duration
}

// Expired reports whether the round's duration has elapsed at now.
// A RoundNone round is never expired; it never started.
func (r Round) Expired(now time.Time) bool {
	return r.Kind != RoundNone && now.Sub(r.Start) >= r.Duration
}

// Order is a peer-to-peer ask in a trade round. The sold quantity is
// escrowed by the engine at creation and leaves escrow only through fills
// and removals.
type Order struct {
	ID        int64
	Seller    common.Address
	Price     int64 // settlement units per whole sale-asset unit
	Remaining int64
	Open      bool
}

// Participant is a registered user and their at-most-one referral edge.
// A zero referrer means "no referrer".
type Participant struct {
	Addr     common.Address
	Referrer common.Address
}
