package staking

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/keskad/tokenfair/params"
	"github.com/keskad/tokenfair/pkg/crypto"
	"github.com/keskad/tokenfair/pkg/governance"
	"github.com/keskad/tokenfair/pkg/token"
	"github.com/keskad/tokenfair/pkg/util"
)

var (
	ErrNotWhitelisted         = errors.New("address is not on the staking whitelist")
	ErrNothingToUnstake       = errors.New("nothing to unstake")
	ErrCooldownNotElapsed     = errors.New("unstake cooldown has not elapsed")
	ErrActiveGovernanceLock   = errors.New("stake is locked by an open governance proposal")
	ErrNothingToClaim         = errors.New("nothing to claim")
	ErrInsufficientRewardPool = errors.New("insufficient reward pool")
	ErrUnauthorized           = errors.New("caller lacks permission for this staking operation")
)

// VoteLock is the one governance query the ledger needs: the end of the
// latest debate window the voter has participated in.
type VoteLock interface {
	LockedUntil(voter common.Address) time.Time
}

// Position is a participant's collateral deposit.
// Amount is zero iff the position does not exist; StakedAt resets on every
// additional deposit, RewardMark advances as whole periods are paid out.
type Position struct {
	Amount     int64
	StakedAt   time.Time
	RewardMark time.Time
}

// Ledger holds collateral deposits gated by a whitelist proof, accrues
// periodic rewards, and reports stake weight and vote-lock status to
// governance. Single mutex; validate-then-mutate in every operation.
type Ledger struct {
	mu    sync.Mutex
	log   *zap.Logger
	clock util.Clock

	self  common.Address // escrow account on both token ledgers
	owner common.Address // operator key, used once for InitDAO

	stake  *token.Ledger // collateral asset
	reward *token.Ledger // reward asset; the pool is the ledger's own balance

	root common.Hash // whitelist Merkle root

	cooldown      time.Duration
	rewardPeriod  time.Duration
	rewardRateBps int64

	dao      common.Address
	daoBound bool
	lock     VoteLock

	positions map[common.Address]*Position
}

func NewLedger(log *zap.Logger, clock util.Clock, self, owner common.Address, stakeTok, rewardTok *token.Ledger, root common.Hash, cfg params.Staking) *Ledger {
	return &Ledger{
		log:           log,
		clock:         clock,
		self:          self,
		owner:         owner,
		stake:         stakeTok,
		reward:        rewardTok,
		root:          root,
		cooldown:      cfg.UnstakeTimeout,
		rewardPeriod:  cfg.RewardPeriod,
		rewardRateBps: cfg.RewardRateBps,
		positions:     make(map[common.Address]*Position),
	}
}

func (l *Ledger) Address() common.Address { return l.self }

// InitDAO binds the governance component exactly once. Owner only; any
// later rebind attempt is rejected.
func (l *Ledger) InitDAO(caller, dao common.Address, lock VoteLock) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner || l.daoBound {
		return fmt.Errorf("init dao by %s: %w", caller.Hex(), ErrUnauthorized)
	}
	l.dao = dao
	l.lock = lock
	l.daoBound = true
	l.log.Info("dao_bound", zap.String("dao", dao.Hex()))
	return nil
}

// Stake escrows collateral from the caller. The whitelist proof must verify
// against the current root; every deposit resets the stake clock.
func (l *Ledger) Stake(caller common.Address, amount int64, proof []common.Hash) error {
	if amount <= 0 {
		return fmt.Errorf("stake %d: %w", amount, token.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !crypto.VerifyProof(l.root, caller, proof) {
		return fmt.Errorf("stake by %s: %w", caller.Hex(), ErrNotWhitelisted)
	}
	if err := l.stake.Transfer(caller, l.self, amount); err != nil {
		return fmt.Errorf("stake by %s: %w", caller.Hex(), err)
	}

	now := l.clock.Now()
	pos, ok := l.positions[caller]
	if !ok {
		pos = &Position{}
		l.positions[caller] = pos
	}
	pos.Amount += amount
	pos.StakedAt = now
	pos.RewardMark = now

	l.log.Info("staked",
		zap.String("staker", caller.Hex()),
		zap.Int64("amount", amount),
		zap.Int64("total", pos.Amount))
	return nil
}

// Unstake refunds the full staked amount and zeroes the position. Requires
// the cooldown to have elapsed and no open governance activity by the caller.
func (l *Ledger) Unstake(caller common.Address) error {
	l.mu.Lock()
	daoBound, lock := l.daoBound, l.lock
	l.mu.Unlock()

	// the lock query takes the governance mutex; cross-component calls never
	// run under l.mu, so lock acquisition stays one-directional
	var lockedUntil time.Time
	if daoBound {
		lockedUntil = lock.LockedUntil(caller)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[caller]
	if !ok || pos.Amount == 0 {
		return fmt.Errorf("unstake by %s: %w", caller.Hex(), ErrNothingToUnstake)
	}

	now := l.clock.Now()
	if now.Sub(pos.StakedAt) < l.cooldown {
		return fmt.Errorf("unstake by %s: %w", caller.Hex(), ErrCooldownNotElapsed)
	}
	if lockedUntil.After(now) {
		return fmt.Errorf("unstake by %s: %w", caller.Hex(), ErrActiveGovernanceLock)
	}

	if err := l.stake.Transfer(l.self, caller, pos.Amount); err != nil {
		return fmt.Errorf("unstake by %s: %w", caller.Hex(), err)
	}
	amount := pos.Amount
	delete(l.positions, caller)

	l.log.Info("unstaked", zap.String("staker", caller.Hex()), zap.Int64("amount", amount))
	return nil
}

// Claim pays out the reward for every whole period elapsed since the last
// checkpoint and advances the checkpoint by exactly the periods paid, so a
// partial period stays pending. Returns the amount paid.
func (l *Ledger) Claim(caller common.Address) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[caller]
	if !ok || pos.Amount == 0 {
		return 0, fmt.Errorf("claim by %s: %w", caller.Hex(), ErrNothingToClaim)
	}

	periods := int64(l.clock.Now().Sub(pos.RewardMark) / l.rewardPeriod)
	if periods == 0 {
		return 0, nil
	}

	payout := periods * pos.Amount * l.rewardRateBps / 10_000
	if payout > 0 {
		if l.reward.BalanceOf(l.self) < payout {
			return 0, fmt.Errorf("claim by %s needs %d: %w", caller.Hex(), payout, ErrInsufficientRewardPool)
		}
		if err := l.reward.Transfer(l.self, caller, payout); err != nil {
			return 0, fmt.Errorf("claim by %s: %w", caller.Hex(), err)
		}
	}
	pos.RewardMark = pos.RewardMark.Add(time.Duration(periods) * l.rewardPeriod)

	l.log.Info("claimed",
		zap.String("staker", caller.Hex()),
		zap.Int64("periods", periods),
		zap.Int64("payout", payout))
	return payout, nil
}

// StakedBalance reports the caller's vote weight to governance.
func (l *Ledger) StakedBalance(addr common.Address) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pos, ok := l.positions[addr]; ok {
		return pos.Amount
	}
	return 0
}

// PositionOf returns a copy of a position, if any.
func (l *Ledger) PositionOf(addr common.Address) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pos, ok := l.positions[addr]; ok {
		return *pos, true
	}
	return Position{}, false
}

func (l *Ledger) UnstakeTimeout() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cooldown
}

func (l *Ledger) WhitelistRoot() common.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.root
}

// ExecuteAction applies governance-approved settings changes. Only the bound
// governance dispatcher may call it.
func (l *Ledger) ExecuteAction(caller common.Address, a governance.Action) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.daoBound || caller != l.dao {
		return fmt.Errorf("execute %s by %s: %w", a.Kind, caller.Hex(), ErrUnauthorized)
	}

	switch a.Kind {
	case governance.ActionSetUnstakeTimeout:
		if a.Amount <= 0 {
			return fmt.Errorf("unstake timeout %d days must be positive", a.Amount)
		}
		l.cooldown = time.Duration(a.Amount) * 24 * time.Hour
		l.log.Info("unstake_timeout_changed", zap.Int64("days", a.Amount))
		return nil
	case governance.ActionSetWhitelistRoot:
		l.root = a.Root
		l.log.Info("whitelist_root_changed", zap.String("root", a.Root.Hex()))
		return nil
	default:
		return fmt.Errorf("execute %s on staking: %w", a.Kind, governance.ErrUnknownAction)
	}
}

var _ governance.Executor = (*Ledger)(nil)
var _ governance.StakeSource = (*Ledger)(nil)
