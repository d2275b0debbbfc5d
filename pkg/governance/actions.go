package governance

import (
	"github.com/ethereum/go-ethereum/common"
)

// Governance dispatches a closed set of tagged administrative actions instead
// of opaque call payloads. The engine never interprets an action beyond
// routing it: the receiving component validates the kind and the caller.

type ActionKind int

const (
	// Governance self-configuration
	ActionSetMinimumQuorum ActionKind = iota + 1
	ActionSetDebateDuration

	// Staking ledger administration
	ActionSetUnstakeTimeout
	ActionSetWhitelistRoot

	// Sale engine administration
	ActionSendCommission
	ActionBurnRetained
)

func (k ActionKind) String() string {
	switch k {
	case ActionSetMinimumQuorum:
		return "set_minimum_quorum"
	case ActionSetDebateDuration:
		return "set_debate_duration"
	case ActionSetUnstakeTimeout:
		return "set_unstake_timeout"
	case ActionSetWhitelistRoot:
		return "set_whitelist_root"
	case ActionSendCommission:
		return "send_commission"
	case ActionBurnRetained:
		return "burn_retained"
	default:
		return "unknown"
	}
}

// Action carries the arguments for any kind; unused fields stay zero.
type Action struct {
	Kind   ActionKind
	Amount int64          // quorum size, duration in seconds, or timeout in days
	Addr   common.Address // commission recipient
	Root   common.Hash    // new whitelist root
}

// Executor applies a governance-approved action. The caller argument is the
// governance dispatch address; implementations must reject any other caller
// and must leave their state untouched when they return an error.
type Executor interface {
	ExecuteAction(caller common.Address, a Action) error
}
