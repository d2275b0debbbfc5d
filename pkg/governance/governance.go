package governance

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/keskad/tokenfair/params"
	"github.com/keskad/tokenfair/pkg/util"
)

var (
	ErrNotChair            = errors.New("only the governance chair can add proposals")
	ErrNoSuchProposal      = errors.New("no such proposal")
	ErrProposalFinalized   = errors.New("proposal already finalized")
	ErrAlreadyVoted        = errors.New("voter has already voted on this proposal")
	ErrNoVotingPower       = errors.New("voter has no staked balance")
	ErrDebateNotOver       = errors.New("debate period is not over")
	ErrQuorumNotMet        = errors.New("not enough votes")
	ErrCallExecutionFailed = errors.New("dispatched call failed")
	ErrUnknownTarget       = errors.New("no executor registered for target")
	ErrUnauthorized        = errors.New("only the governance dispatcher can change settings")
	ErrUnknownAction       = errors.New("action not supported by target")
)

// StakeSource exposes the one staking query governance needs: the caller's
// current collateral, used as vote weight.
type StakeSource interface {
	StakedBalance(addr common.Address) int64
}

// Proposal is a vote-weighted administrative action pending execution.
// Debate is fixed at creation: a later debate-duration change applies only
// to proposals added after it, so voters' locks and the finalize gate agree.
type Proposal struct {
	ID           int64
	Action       Action
	Target       common.Address
	Description  string
	VotesFor     int64
	VotesAgainst int64
	Start        time.Time
	Debate       time.Duration
	Done         bool

	voters map[common.Address]struct{}
}

// Engine runs the proposal lifecycle: chair-created proposals, stake-weighted
// votes, and quorum/majority-gated dispatch of the approved action to a
// registered target. Single mutex; every operation is one atomic step.
type Engine struct {
	mu    sync.Mutex
	log   *zap.Logger
	clock util.Clock

	self  common.Address // dispatch identity presented to targets
	chair common.Address

	stakes  StakeSource
	targets map[common.Address]Executor

	minQuorum int64
	debate    time.Duration

	// proposals[0] is reserved; ids start at 1
	proposals []*Proposal

	// per-voter end of the latest debate window they voted in;
	// consumed by the staking ledger's unstake gate
	lockUntil map[common.Address]time.Time
}

func NewEngine(log *zap.Logger, clock util.Clock, self common.Address, cfg params.Governance, stakes StakeSource) *Engine {
	return &Engine{
		log:       log,
		clock:     clock,
		self:      self,
		chair:     cfg.Chair,
		stakes:    stakes,
		targets:   make(map[common.Address]Executor),
		minQuorum: cfg.MinimumQuorum,
		debate:    cfg.DebateDuration,
		proposals: make([]*Proposal, 1),
		lockUntil: make(map[common.Address]time.Time),
	}
}

// RegisterTarget binds a dispatch target to its address. Called once at
// wiring time for each administered component (including the engine itself).
func (e *Engine) RegisterTarget(addr common.Address, ex Executor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.targets[addr] = ex
}

func (e *Engine) Address() common.Address { return e.self }

func (e *Engine) Chair() common.Address { return e.chair }

func (e *Engine) MinimumQuorum() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.minQuorum
}

func (e *Engine) DebateDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.debate
}

// ProposalCount returns the next proposal id, i.e. 1 when nothing has been
// proposed yet (id 0 is reserved).
func (e *Engine) ProposalCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int64(len(e.proposals))
}

// ProposalInfo returns a copy of a proposal.
func (e *Engine) ProposalInfo(id int64) (Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.proposalLocked(id)
	if err != nil {
		return Proposal{}, err
	}
	return *p, nil
}

func (e *Engine) proposalLocked(id int64) (*Proposal, error) {
	if id < 1 || id >= int64(len(e.proposals)) {
		return nil, fmt.Errorf("proposal %d: %w", id, ErrNoSuchProposal)
	}
	return e.proposals[id], nil
}

// AddProposal appends a proposal. Chair only.
func (e *Engine) AddProposal(caller common.Address, a Action, target common.Address, description string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.chair {
		return 0, fmt.Errorf("add proposal by %s: %w", caller.Hex(), ErrNotChair)
	}

	p := &Proposal{
		ID:          int64(len(e.proposals)),
		Action:      a,
		Target:      target,
		Description: description,
		Start:       e.clock.Now(),
		Debate:      e.debate,
		voters:      make(map[common.Address]struct{}),
	}
	e.proposals = append(e.proposals, p)

	e.log.Info("proposal_added",
		zap.Int64("id", p.ID),
		zap.String("action", a.Kind.String()),
		zap.String("target", target.Hex()),
		zap.String("description", description))
	return p.ID, nil
}

// Vote adds the caller's current staked balance to the chosen tally and
// extends the caller's governance lock to the end of this debate window.
func (e *Engine) Vote(caller common.Address, id int64, support bool) error {
	// the stake query takes the staking ledger's mutex; read it before e.mu
	// so the two components only ever lock in one direction
	weight := e.stakes.StakedBalance(caller)

	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.proposalLocked(id)
	if err != nil {
		return err
	}
	if p.Done {
		return fmt.Errorf("vote on proposal %d: %w", id, ErrProposalFinalized)
	}
	if _, voted := p.voters[caller]; voted {
		return fmt.Errorf("vote on proposal %d by %s: %w", id, caller.Hex(), ErrAlreadyVoted)
	}

	if weight == 0 {
		return fmt.Errorf("vote on proposal %d by %s: %w", id, caller.Hex(), ErrNoVotingPower)
	}

	if support {
		p.VotesFor += weight
	} else {
		p.VotesAgainst += weight
	}
	p.voters[caller] = struct{}{}

	end := p.Start.Add(p.Debate)
	if end.After(e.lockUntil[caller]) {
		e.lockUntil[caller] = end
	}

	e.log.Info("vote_recorded",
		zap.Int64("proposal", id),
		zap.String("voter", caller.Hex()),
		zap.Bool("support", support),
		zap.Int64("weight", weight))
	return nil
}

// LockedUntil returns the end of the latest debate window the voter has
// participated in; the zero time if they never voted.
func (e *Engine) LockedUntil(voter common.Address) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lockUntil[voter]
}

// FinishProposal finalizes a proposal once its debate window has elapsed.
// An approved action is dispatched to the target; if the dispatch fails the
// proposal stays open and no state changes, so the finalize can be retried.
func (e *Engine) FinishProposal(id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.proposalLocked(id)
	if err != nil {
		return err
	}
	if p.Done {
		return fmt.Errorf("finish proposal %d: %w", id, ErrProposalFinalized)
	}
	if e.clock.Now().Sub(p.Start) < p.Debate {
		return fmt.Errorf("finish proposal %d: %w", id, ErrDebateNotOver)
	}
	if p.VotesFor+p.VotesAgainst < e.minQuorum {
		return fmt.Errorf("finish proposal %d (%d of %d votes): %w", id, p.VotesFor+p.VotesAgainst, e.minQuorum, ErrQuorumNotMet)
	}

	if p.VotesFor > p.VotesAgainst {
		if err := e.dispatchLocked(p); err != nil {
			e.log.Warn("proposal_dispatch_failed", zap.Int64("id", id), zap.Error(err))
			return fmt.Errorf("finish proposal %d: %w: %w", id, ErrCallExecutionFailed, err)
		}
	}
	p.Done = true

	e.log.Info("proposal_finished",
		zap.Int64("id", id),
		zap.Int64("for", p.VotesFor),
		zap.Int64("against", p.VotesAgainst),
		zap.Bool("executed", p.VotesFor > p.VotesAgainst))
	return nil
}

func (e *Engine) dispatchLocked(p *Proposal) error {
	if p.Target == e.self {
		// own config actions run inline; going through the executor map
		// would re-enter the engine mutex
		return e.applyLocked(p.Action)
	}
	ex, ok := e.targets[p.Target]
	if !ok {
		return fmt.Errorf("target %s: %w", p.Target.Hex(), ErrUnknownTarget)
	}
	return ex.ExecuteAction(e.self, p.Action)
}

// ExecuteAction lets the engine administer its own configuration through the
// same dispatch path as any other target.
func (e *Engine) ExecuteAction(caller common.Address, a Action) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.self {
		return fmt.Errorf("execute %s by %s: %w", a.Kind, caller.Hex(), ErrUnauthorized)
	}
	return e.applyLocked(a)
}

func (e *Engine) applyLocked(a Action) error {
	switch a.Kind {
	case ActionSetMinimumQuorum:
		if a.Amount <= 0 {
			return fmt.Errorf("minimum quorum %d must be positive", a.Amount)
		}
		e.minQuorum = a.Amount
		e.log.Info("minimum_quorum_changed", zap.Int64("quorum", a.Amount))
		return nil
	case ActionSetDebateDuration:
		if a.Amount <= 0 {
			return fmt.Errorf("debate duration %ds must be positive", a.Amount)
		}
		e.debate = time.Duration(a.Amount) * time.Second
		e.log.Info("debate_duration_changed", zap.Int64("seconds", a.Amount))
		return nil
	default:
		return fmt.Errorf("execute %s on governance: %w", a.Kind, ErrUnknownAction)
	}
}
