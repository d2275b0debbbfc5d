package tests

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/keskad/tokenfair/params"
	"github.com/keskad/tokenfair/pkg/crypto"
	"github.com/keskad/tokenfair/pkg/governance"
	"github.com/keskad/tokenfair/pkg/platform"
	"github.com/keskad/tokenfair/pkg/staking"
	"github.com/keskad/tokenfair/pkg/token"
	"github.com/keskad/tokenfair/pkg/util"
)

var (
	platformAddr = common.HexToAddress("0xE000000000000000000000000000000000000000")
	stakingAddr  = common.HexToAddress("0x5000000000000000000000000000000000000000")
	daoAddr      = common.HexToAddress("0xD000000000000000000000000000000000000000")
	owner        = common.HexToAddress("0x1000000000000000000000000000000000000000")
	chair        = common.HexToAddress("0xC000000000000000000000000000000000000000")
	treasury     = common.HexToAddress("0xF000000000000000000000000000000000000000")
	alice        = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob          = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	carol        = common.HexToAddress("0xCC00000000000000000000000000000000000000")
)

// stack is the full component wiring: four in-memory token ledgers, the
// staking ledger, the governance engine and the sale/exchange engine bound
// together the way platformd binds them.
type stack struct {
	clock  *util.ManualClock
	cfg    params.Config
	sale   *token.Ledger
	settle *token.Ledger
	stake  *token.Ledger
	reward *token.Ledger
	tree   *crypto.MerkleTree
	stakes *staking.Ledger
	gov    *governance.Engine
	engine *platform.Engine
}

func newStack(t *testing.T) *stack {
	cfg := params.Default()
	cfg.Governance.Chair = chair
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	log := zap.NewNop()

	sale := token.NewLedger("SALE", 6)
	settle := token.NewLedger("STL", 6)
	stakeTok := token.NewLedger("STK", 18)
	rewardTok := token.NewLedger("RWD", 18)
	sale.BindController(platformAddr)
	settle.BindController(owner)
	stakeTok.BindController(owner)
	rewardTok.BindController(owner)

	tree := crypto.NewMerkleTree([]common.Address{alice, bob})
	stakes := staking.NewLedger(log, clock, stakingAddr, owner, stakeTok, rewardTok, tree.Root(), cfg.Staking)
	gov := governance.NewEngine(log, clock, daoAddr, cfg.Governance, stakes)
	if err := stakes.InitDAO(owner, gov.Address(), gov); err != nil {
		t.Fatalf("init dao: %v", err)
	}
	engine := platform.NewEngine(log, clock, platformAddr, gov.Address(), sale, settle, cfg.Platform)
	gov.RegisterTarget(stakes.Address(), stakes)
	gov.RegisterTarget(engine.Address(), engine)

	return &stack{
		clock:  clock,
		cfg:    cfg,
		sale:   sale,
		settle: settle,
		stake:  stakeTok,
		reward: rewardTok,
		tree:   tree,
		stakes: stakes,
		gov:    gov,
		engine: engine,
	}
}

// TestFullSaleTradeCycle walks a complete round cycle: bootstrap sale with a
// referral commission, a trade round whose volume seeds the next sale, and
// the governance-dispatched commission sweep at the end.
func TestFullSaleTradeCycle(t *testing.T) {
	s := newStack(t)
	roundLen := s.cfg.Platform.RoundDuration

	if err := s.engine.Register(alice, common.Address{}); err != nil {
		t.Fatalf("register alice: %v", err)
	}
	if err := s.engine.Register(bob, alice); err != nil {
		t.Fatalf("register bob: %v", err)
	}
	s.settle.Mint(owner, alice, 1_000_000)
	s.settle.Mint(owner, bob, 1_000_000)

	// ---- sale round ----
	if err := s.engine.StartSaleRound(); err != nil {
		t.Fatalf("start sale round: %v", err)
	}
	qty, err := s.engine.Buy(bob, 500_000) // 50 units at 10_000
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if qty != 50 {
		t.Fatalf("bought %d, want 50", qty)
	}
	// bob's referrer takes 5% of the payment straight away
	if got := s.settle.BalanceOf(alice); got != 1_025_000 {
		t.Errorf("referrer balance = %d, want 1025000", got)
	}
	if got := s.engine.Retained(); got != 475_000 {
		t.Errorf("retained = %d, want 475000", got)
	}

	// ---- trade round ----
	s.clock.Advance(roundLen)
	if err := s.engine.StartTradeRound(); err != nil {
		t.Fatalf("start trade round: %v", err)
	}
	id, err := s.engine.AddOrder(bob, 20_000, 30)
	if err != nil {
		t.Fatalf("add order: %v", err)
	}
	if _, err := s.engine.RedeemOrder(alice, id, 400_000); err != nil { // 20 units
		t.Fatalf("redeem: %v", err)
	}
	if got := s.sale.BalanceOf(alice); got != 20 {
		t.Errorf("alice holds %d units, want 20", got)
	}
	if got := s.engine.TradeVolume(); got != 400_000 {
		t.Errorf("trade volume = %d, want 400000", got)
	}

	// ---- next sale round is sized by the traded volume ----
	s.clock.Advance(roundLen)
	if err := s.engine.StartSaleRound(); err != nil {
		t.Fatalf("second sale round: %v", err)
	}
	if got := s.engine.Price(); got != 14_300 {
		t.Errorf("second round price = %d, want 14300", got)
	}
	if got := s.engine.SaleEscrow(); got != 400_000/14_300 {
		t.Errorf("second round escrow = %d, want %d", got, int64(400_000/14_300))
	}

	// ---- governance sweeps the retained commission ----
	sweep(t, s, governance.Action{Kind: governance.ActionSendCommission, Addr: treasury}, s.engine.Address())
	if got := s.settle.BalanceOf(treasury); got != 475_000 {
		t.Errorf("treasury = %d, want 475000", got)
	}
	if got := s.engine.Retained(); got != 0 {
		t.Errorf("retained after sweep = %d, want 0", got)
	}
}

// TestGovernanceChangesUnstakeTimeout: stakers vote the cooldown from its
// 1200-second default to 10 days, and the change gates a later unstake.
func TestGovernanceChangesUnstakeTimeout(t *testing.T) {
	s := newStack(t)
	stakeUp(t, s)

	sweep(t, s, governance.Action{Kind: governance.ActionSetUnstakeTimeout, Amount: 10}, s.stakes.Address())
	if got := s.stakes.UnstakeTimeout(); got != 10*24*time.Hour {
		t.Fatalf("cooldown = %v, want 240h", got)
	}

	// the debate already consumed 3 days; the new 10-day cooldown still holds
	if err := s.stakes.Unstake(alice); !errors.Is(err, staking.ErrCooldownNotElapsed) {
		t.Errorf("unstake under new cooldown: got %v, want ErrCooldownNotElapsed", err)
	}
	s.clock.Advance(7 * 24 * time.Hour)
	if err := s.stakes.Unstake(alice); err != nil {
		t.Errorf("unstake after new cooldown: %v", err)
	}
}

// TestVoteLocksStake: a staker who voted cannot withdraw until the debate
// window closes, even though the cooldown has long elapsed.
func TestVoteLocksStake(t *testing.T) {
	s := newStack(t)
	stakeUp(t, s)

	id, err := s.gov.AddProposal(chair, governance.Action{Kind: governance.ActionSetMinimumQuorum, Amount: 50}, s.gov.Address(), "")
	if err != nil {
		t.Fatalf("add proposal: %v", err)
	}
	if err := s.gov.Vote(alice, id, true); err != nil {
		t.Fatalf("vote: %v", err)
	}

	s.clock.Advance(2 * s.cfg.Staking.UnstakeTimeout)
	if err := s.stakes.Unstake(alice); !errors.Is(err, staking.ErrActiveGovernanceLock) {
		t.Errorf("unstake mid-debate: got %v, want ErrActiveGovernanceLock", err)
	}
	// bob never voted; only the cooldown applies to him
	if err := s.stakes.Unstake(bob); err != nil {
		t.Errorf("non-voter unstake: %v", err)
	}

	s.clock.Advance(s.cfg.Governance.DebateDuration)
	if err := s.stakes.Unstake(alice); err != nil {
		t.Errorf("unstake after debate: %v", err)
	}
}

// TestCrossComponentCallsDoNotBlock hammers the two cross-component paths
// from opposite sides at once: unstakes gated by an active vote lock (staking
// querying governance) against votes with no voting power (governance
// querying staking). Every call must return; neither component may wedge.
func TestCrossComponentCallsDoNotBlock(t *testing.T) {
	s := newStack(t)
	stakeUp(t, s)

	id, err := s.gov.AddProposal(chair, governance.Action{Kind: governance.ActionSetMinimumQuorum, Amount: 50}, s.gov.Address(), "")
	if err != nil {
		t.Fatalf("add proposal: %v", err)
	}
	if err := s.gov.Vote(alice, id, true); err != nil {
		t.Fatalf("vote: %v", err)
	}
	// cooldown elapsed, vote lock still active
	s.clock.Advance(2 * s.cfg.Staking.UnstakeTimeout)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.stakes.Unstake(alice)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.gov.Vote(carol, id, true)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("cross-component calls did not complete")
	}

	// the lock held throughout: alice's stake never left
	if got := s.stakes.StakedBalance(alice); got != 80 {
		t.Errorf("alice stake = %d, want 80", got)
	}
	if err := s.stakes.Unstake(alice); !errors.Is(err, staking.ErrActiveGovernanceLock) {
		t.Errorf("unstake under lock: got %v, want ErrActiveGovernanceLock", err)
	}
}

// stakeUp funds and stakes alice (80) and bob (40), enough for quorum.
func stakeUp(t *testing.T, s *stack) {
	t.Helper()
	s.stake.Mint(owner, alice, 80)
	s.stake.Mint(owner, bob, 40)
	aliceProof, _ := s.tree.Prove(alice)
	bobProof, _ := s.tree.Prove(bob)
	if err := s.stakes.Stake(alice, 80, aliceProof); err != nil {
		t.Fatalf("alice stake: %v", err)
	}
	if err := s.stakes.Stake(bob, 40, bobProof); err != nil {
		t.Fatalf("bob stake: %v", err)
	}
}

// sweep carries one proposal through its whole lifecycle: chair adds it,
// both stakers approve, the debate window passes, the action dispatches.
func sweep(t *testing.T, s *stack, a governance.Action, target common.Address) {
	t.Helper()
	if s.stakes.StakedBalance(alice) == 0 {
		stakeUp(t, s)
	}
	id, err := s.gov.AddProposal(chair, a, target, "e2e")
	if err != nil {
		t.Fatalf("add proposal: %v", err)
	}
	if err := s.gov.Vote(alice, id, true); err != nil {
		t.Fatalf("alice vote: %v", err)
	}
	if err := s.gov.Vote(bob, id, true); err != nil {
		t.Fatalf("bob vote: %v", err)
	}
	s.clock.Advance(s.cfg.Governance.DebateDuration)
	if err := s.gov.FinishProposal(id); err != nil {
		t.Fatalf("finish proposal: %v", err)
	}
}
