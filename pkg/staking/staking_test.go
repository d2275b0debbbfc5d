package staking

import (
	"errors"
	"testing"
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
	stakingAddr = common.HexToAddress("0x5000000000000000000000000000000000000000")
	ownerAddr   = common.HexToAddress("0x1000000000000000000000000000000000000000")
	daoAddr     = common.HexToAddress("0xD000000000000000000000000000000000000000")
	alice       = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob         = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	mallory     = common.HexToAddress("0xEE00000000000000000000000000000000000000")
)

type testEnv struct {
	ledger *Ledger
	clock  *util.ManualClock
	stake  *token.Ledger
	reward *token.Ledger
	tree   *crypto.MerkleTree
	cfg    params.Staking
}

type fixedLock struct {
	until time.Time
}

func (f fixedLock) LockedUntil(common.Address) time.Time { return f.until }

// newTestEnv builds a ledger whitelisting alice and bob, with alice holding
// 10_000 stake tokens and a funded reward pool. Default parameters: 1200s
// cooldown, 7-day reward period at 3%.
func newTestEnv(t *testing.T) *testEnv {
	cfg := params.Default().Staking
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))

	stake := token.NewLedger("STK", 18)
	reward := token.NewLedger("RWD", 18)
	stake.BindController(ownerAddr)
	reward.BindController(ownerAddr)
	if err := stake.Mint(ownerAddr, alice, 10_000); err != nil {
		t.Fatalf("seed stake: %v", err)
	}
	if err := reward.Mint(ownerAddr, stakingAddr, 1_000_000); err != nil {
		t.Fatalf("seed reward pool: %v", err)
	}

	tree := crypto.NewMerkleTree([]common.Address{alice, bob})
	ledger := NewLedger(zap.NewNop(), clock, stakingAddr, ownerAddr, stake, reward, tree.Root(), cfg)
	return &testEnv{ledger: ledger, clock: clock, stake: stake, reward: reward, tree: tree, cfg: cfg}
}

func (env *testEnv) proofFor(t *testing.T, addr common.Address) []common.Hash {
	t.Helper()
	proof, ok := env.tree.Prove(addr)
	if !ok {
		t.Fatalf("no whitelist proof for %s", addr.Hex())
	}
	return proof
}

func TestStakeRequiresWhitelistProof(t *testing.T) {
	env := newTestEnv(t)

	if err := env.ledger.Stake(mallory, 100, nil); !errors.Is(err, ErrNotWhitelisted) {
		t.Errorf("outsider stake: got %v, want ErrNotWhitelisted", err)
	}
	// alice's proof does not admit mallory
	if err := env.ledger.Stake(mallory, 100, env.proofFor(t, alice)); !errors.Is(err, ErrNotWhitelisted) {
		t.Errorf("borrowed proof: got %v, want ErrNotWhitelisted", err)
	}

	if err := env.ledger.Stake(alice, 1_000, env.proofFor(t, alice)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if got := env.ledger.StakedBalance(alice); got != 1_000 {
		t.Errorf("staked = %d, want 1000", got)
	}
	if got := env.stake.BalanceOf(stakingAddr); got != 1_000 {
		t.Errorf("escrow = %d, want 1000", got)
	}
}

func TestStakeResetsClock(t *testing.T) {
	env := newTestEnv(t)
	proof := env.proofFor(t, alice)

	env.ledger.Stake(alice, 1_000, proof)
	env.clock.Advance(env.cfg.UnstakeTimeout - time.Second)

	// a top-up restarts the cooldown
	if err := env.ledger.Stake(alice, 500, proof); err != nil {
		t.Fatalf("top-up: %v", err)
	}
	env.clock.Advance(2 * time.Second)
	if err := env.ledger.Unstake(alice); !errors.Is(err, ErrCooldownNotElapsed) {
		t.Errorf("unstake after top-up: got %v, want ErrCooldownNotElapsed", err)
	}

	env.clock.Advance(env.cfg.UnstakeTimeout)
	if err := env.ledger.Unstake(alice); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if got := env.stake.BalanceOf(alice); got != 10_000 {
		t.Errorf("alice refunded to %d, want 10000", got)
	}
	if _, ok := env.ledger.PositionOf(alice); ok {
		t.Error("position should be gone after unstake")
	}
}

func TestUnstakeGuards(t *testing.T) {
	env := newTestEnv(t)

	if err := env.ledger.Unstake(alice); !errors.Is(err, ErrNothingToUnstake) {
		t.Errorf("unstake with no position: got %v, want ErrNothingToUnstake", err)
	}

	env.ledger.Stake(alice, 1_000, env.proofFor(t, alice))
	if err := env.ledger.Unstake(alice); !errors.Is(err, ErrCooldownNotElapsed) {
		t.Errorf("unstake inside cooldown: got %v, want ErrCooldownNotElapsed", err)
	}
}

// TestUnstakeBlockedByGovernanceLock: an open debate window the staker voted
// in blocks withdrawal even after the cooldown.
func TestUnstakeBlockedByGovernanceLock(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Stake(alice, 1_000, env.proofFor(t, alice))

	lockEnd := env.clock.Now().Add(2 * env.cfg.UnstakeTimeout)
	if err := env.ledger.InitDAO(ownerAddr, daoAddr, fixedLock{until: lockEnd}); err != nil {
		t.Fatalf("init dao: %v", err)
	}

	env.clock.Advance(env.cfg.UnstakeTimeout)
	if err := env.ledger.Unstake(alice); !errors.Is(err, ErrActiveGovernanceLock) {
		t.Errorf("locked unstake: got %v, want ErrActiveGovernanceLock", err)
	}

	env.clock.Advance(env.cfg.UnstakeTimeout)
	if err := env.ledger.Unstake(alice); err != nil {
		t.Fatalf("unstake after lock: %v", err)
	}
}

func TestInitDAOOnce(t *testing.T) {
	env := newTestEnv(t)

	if err := env.ledger.InitDAO(mallory, daoAddr, fixedLock{}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("init by stranger: got %v, want ErrUnauthorized", err)
	}
	if err := env.ledger.InitDAO(ownerAddr, daoAddr, fixedLock{}); err != nil {
		t.Fatalf("init dao: %v", err)
	}
	if err := env.ledger.InitDAO(ownerAddr, mallory, fixedLock{}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("rebind: got %v, want ErrUnauthorized", err)
	}
}

// TestClaimWholePeriods: the reward is 3% of the stake per whole 7-day
// period; partial periods stay pending and pay out on a later claim.
func TestClaimWholePeriods(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Stake(alice, 10_000, env.proofFor(t, alice))

	// half a period: nothing to pay, no error
	env.clock.Advance(env.cfg.RewardPeriod / 2)
	payout, err := env.ledger.Claim(alice)
	if err != nil {
		t.Fatalf("early claim: %v", err)
	}
	if payout != 0 {
		t.Errorf("early payout = %d, want 0", payout)
	}

	// the second half completes one period
	env.clock.Advance(env.cfg.RewardPeriod / 2)
	payout, err = env.ledger.Claim(alice)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if payout != 300 {
		t.Errorf("one-period payout = %d, want 300", payout)
	}

	// two more periods accrue independently of claim timing
	env.clock.Advance(2 * env.cfg.RewardPeriod)
	payout, _ = env.ledger.Claim(alice)
	if payout != 600 {
		t.Errorf("two-period payout = %d, want 600", payout)
	}
	if got := env.reward.BalanceOf(alice); got != 900 {
		t.Errorf("total rewards = %d, want 900", got)
	}
}

func TestClaimGuards(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.ledger.Claim(alice); !errors.Is(err, ErrNothingToClaim) {
		t.Errorf("claim with no position: got %v, want ErrNothingToClaim", err)
	}
}

// TestExecuteAction: settings changes land only through the bound dispatcher.
func TestExecuteAction(t *testing.T) {
	env := newTestEnv(t)

	action := governance.Action{Kind: governance.ActionSetUnstakeTimeout, Amount: 10}
	if err := env.ledger.ExecuteAction(daoAddr, action); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("execute before dao bind: got %v, want ErrUnauthorized", err)
	}

	env.ledger.InitDAO(ownerAddr, daoAddr, fixedLock{})
	if err := env.ledger.ExecuteAction(mallory, action); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("execute by stranger: got %v, want ErrUnauthorized", err)
	}

	// the amount is in days
	if err := env.ledger.ExecuteAction(daoAddr, action); err != nil {
		t.Fatalf("set unstake timeout: %v", err)
	}
	if got := env.ledger.UnstakeTimeout(); got != 10*24*time.Hour {
		t.Errorf("cooldown = %v, want 240h", got)
	}

	newTree := crypto.NewMerkleTree([]common.Address{bob})
	if err := env.ledger.ExecuteAction(daoAddr, governance.Action{
		Kind: governance.ActionSetWhitelistRoot,
		Root: newTree.Root(),
	}); err != nil {
		t.Fatalf("set whitelist root: %v", err)
	}
	// alice's old proof no longer admits her
	if err := env.ledger.Stake(alice, 100, env.proofFor(t, alice)); !errors.Is(err, ErrNotWhitelisted) {
		t.Errorf("stake under new root: got %v, want ErrNotWhitelisted", err)
	}
	proof, _ := newTree.Prove(bob)
	env.stake.Mint(ownerAddr, bob, 100)
	if err := env.ledger.Stake(bob, 100, proof); err != nil {
		t.Errorf("stake under new root with new proof: %v", err)
	}
}

// TestClaimInsufficientPool: a shortfall fails the claim without burning the
// accrued periods.
func TestClaimInsufficientPool(t *testing.T) {
	env := newTestEnv(t)
	// drain the pool to less than one period's payout
	env.reward.Burn(ownerAddr, stakingAddr, 1_000_000-100)

	env.ledger.Stake(alice, 10_000, env.proofFor(t, alice))
	env.clock.Advance(env.cfg.RewardPeriod)

	if _, err := env.ledger.Claim(alice); !errors.Is(err, ErrInsufficientRewardPool) {
		t.Errorf("claim against empty pool: got %v, want ErrInsufficientRewardPool", err)
	}

	// refill and retry: the accrued period is still claimable
	env.reward.Mint(ownerAddr, stakingAddr, 1_000)
	payout, err := env.ledger.Claim(alice)
	if err != nil {
		t.Fatalf("retry claim: %v", err)
	}
	if payout != 300 {
		t.Errorf("payout after refill = %d, want 300", payout)
	}
}
