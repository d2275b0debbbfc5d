package platform

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/keskad/tokenfair/params"
	"github.com/keskad/tokenfair/pkg/token"
	"github.com/keskad/tokenfair/pkg/util"
)

// Engine is the round-based sale/exchange marketplace. It alternates between
// a fixed-price sale round and a peer-to-peer trade round, bumps the unit
// price between cycles, and routes referral commissions on every payment.
//
// The engine owns two escrow positions on the token ledgers under its own
// address: the unsold sale-asset stock during a sale round, and the
// sale-asset backing open orders during a trade round. Retained settlement
// proceeds accumulate under the same address and move only through
// governance-approved administrative calls.
//
// All operations are validate-then-mutate under one mutex: a failed
// operation has no effect.
type Engine struct {
	mu    sync.Mutex
	log   *zap.Logger
	clock util.Clock

	self common.Address // escrow account on both ledgers
	dao  common.Address // governance dispatch address

	sale   *token.Ledger // asset sold in rounds; engine is its mint/burn controller
	settle *token.Ledger // settlement currency

	cfg params.Platform

	price   int64 // unit price of the upcoming (or active) sale round
	hadSale bool  // at least one sale round has ever run
	round   Round

	saleEscrow  int64 // unsold quantity of the active sale round
	tradeVolume int64 // settlement value traded in the active trade round
	retained    int64 // platform-retained settlement proceeds

	orders       []*Order
	participants map[common.Address]common.Address // participant -> referrer (zero = none)
}

func NewEngine(log *zap.Logger, clock util.Clock, self, dao common.Address, saleTok, settleTok *token.Ledger, cfg params.Platform) *Engine {
	return &Engine{
		log:          log,
		clock:        clock,
		self:         self,
		dao:          dao,
		sale:         saleTok,
		settle:       settleTok,
		cfg:          cfg,
		price:        cfg.StartPrice,
		participants: make(map[common.Address]common.Address),
	}
}

func (e *Engine) Address() common.Address { return e.self }

// Register adds the caller to the referral tree. The referrer, when given,
// must already be registered and differ from the caller; re-registration is
// a hard failure.
func (e *Engine) Register(caller, referrer common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.participants[caller]; ok {
		return fmt.Errorf("register %s: %w", caller.Hex(), ErrAlreadyRegistered)
	}
	if referrer != (common.Address{}) {
		if _, ok := e.participants[referrer]; !ok || referrer == caller {
			return fmt.Errorf("register %s under %s: %w", caller.Hex(), referrer.Hex(), ErrInvalidReferral)
		}
	}
	e.participants[caller] = referrer

	e.log.Info("registered", zap.String("participant", caller.Hex()), zap.String("referrer", referrer.Hex()))
	return nil
}

// StartSaleRound opens a sale round. The sellable quantity is the previous
// trade round's settlement volume divided by the current unit price (the
// configured bootstrap volume before the first round). A zero quantity still
// opens the round.
func (e *Engine) StartSaleRound() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if e.round.Kind == RoundSale {
		return fmt.Errorf("start sale round: %w", ErrRoundAlreadyActive)
	}
	if e.round.Kind == RoundTrade && !e.round.Expired(now) {
		return fmt.Errorf("start sale round: %w", ErrTradeRoundNotOver)
	}

	volume := e.cfg.BootstrapVolume
	if e.hadSale {
		volume = e.tradeVolume
	}
	quantity := volume / e.price
	if quantity > 0 {
		if err := e.sale.Mint(e.self, e.self, quantity); err != nil {
			return fmt.Errorf("start sale round: %w", err)
		}
	}

	e.saleEscrow = quantity
	e.round = Round{Kind: RoundSale, Start: now, Duration: e.cfg.RoundDuration}
	e.hadSale = true

	e.log.Info("sale_round_started",
		zap.Int64("price", e.price),
		zap.Int64("quantity", quantity))
	return nil
}

// Buy purchases sale-asset at the fixed round price. The purchasable
// quantity is paid/price floor-divided and capped at the remaining escrow;
// only the cost of the capped quantity leaves the buyer. Referral shares of
// the accepted payment route to the buyer's first and second level
// referrers; the rest is retained by the engine.
func (e *Engine) Buy(caller common.Address, paid int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ref1, registered := e.participants[caller]
	if !registered {
		return 0, fmt.Errorf("buy by %s: %w", caller.Hex(), ErrNotRegistered)
	}

	now := e.clock.Now()
	if e.round.Kind != RoundSale {
		return 0, fmt.Errorf("buy by %s: %w", caller.Hex(), ErrSaleRoundNotStarted)
	}
	if e.round.Expired(now) {
		return 0, fmt.Errorf("buy by %s: %w", caller.Hex(), ErrSaleRoundOver)
	}
	if e.saleEscrow == 0 {
		return 0, fmt.Errorf("buy by %s: %w", caller.Hex(), ErrAllSold)
	}
	if paid < e.price {
		return 0, fmt.Errorf("buy by %s with %d at price %d: %w", caller.Hex(), paid, e.price, ErrInsufficientFunds)
	}

	quantity := paid / e.price
	if quantity > e.saleEscrow {
		quantity = e.saleEscrow
	}
	cost := quantity * e.price

	if err := e.settle.Transfer(caller, e.self, cost); err != nil {
		return 0, fmt.Errorf("buy by %s: %w", caller.Hex(), err)
	}

	// cost is in engine escrow now; slices of it cannot fail to move
	var ref1Share, ref2Share int64
	if ref1 != (common.Address{}) {
		ref1Share = cost * e.cfg.SaleRef1Bps / 10_000
		e.mustPay(ref1, ref1Share)
		if ref2 := e.participants[ref1]; ref2 != (common.Address{}) {
			ref2Share = cost * e.cfg.SaleRef2Bps / 10_000
			e.mustPay(ref2, ref2Share)
		}
	}
	e.retained += cost - ref1Share - ref2Share

	e.saleEscrow -= quantity
	if err := e.sale.Transfer(e.self, caller, quantity); err != nil {
		// unreachable: the escrow was minted to e.self at round start
		panic(fmt.Errorf("sale escrow underflow: %w", err))
	}

	e.log.Info("sale_bought",
		zap.String("buyer", caller.Hex()),
		zap.Int64("quantity", quantity),
		zap.Int64("cost", cost),
		zap.Int64("remaining", e.saleEscrow))
	return quantity, nil
}

// StartTradeRound closes the sale phase, burns the unsold escrow, resets the
// volume accumulator, and opens a trade round. The next sale round's unit
// price is fixed here: closing price × growth + increment.
func (e *Engine) StartTradeRound() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if !e.hadSale || e.round.Kind == RoundTrade {
		return fmt.Errorf("start trade round: %w", ErrCannotStartTradeRound)
	}
	if e.round.Kind == RoundSale && !e.round.Expired(now) {
		return fmt.Errorf("start trade round: %w", ErrSaleRoundNotOver)
	}

	if e.saleEscrow > 0 {
		if err := e.sale.Burn(e.self, e.self, e.saleEscrow); err != nil {
			return fmt.Errorf("start trade round: %w", err)
		}
		e.log.Info("unsold_burned", zap.Int64("quantity", e.saleEscrow))
		e.saleEscrow = 0
	}

	e.price = e.price*e.cfg.PriceGrowthBps/10_000 + e.cfg.PriceIncrement
	e.tradeVolume = 0
	e.round = Round{Kind: RoundTrade, Start: now, Duration: e.cfg.RoundDuration}

	e.log.Info("trade_round_started", zap.Int64("next_price", e.price))
	return nil
}

// mustPay moves settlement out of engine escrow where sufficiency is
// guaranteed by construction. A zero amount is a no-op.
func (e *Engine) mustPay(to common.Address, amount int64) {
	if amount == 0 {
		return
	}
	if err := e.settle.Transfer(e.self, to, amount); err != nil {
		panic(fmt.Errorf("engine escrow underflow: %w", err))
	}
}

// ---- queries ----

// Price returns the unit price of the upcoming (or active) sale round.
func (e *Engine) Price() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.price
}

func (e *Engine) CurrentRound() Round {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round
}

// SaleEscrow returns the unsold quantity of the active sale round.
func (e *Engine) SaleEscrow() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.saleEscrow
}

// TradeVolume returns the settlement value traded in the active trade round.
func (e *Engine) TradeVolume() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tradeVolume
}

// Retained returns the platform-retained settlement proceeds.
func (e *Engine) Retained() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retained
}

// ParticipantInfo returns a participant's referral edge.
func (e *Engine) ParticipantInfo(addr common.Address) (Participant, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ref, ok := e.participants[addr]
	if !ok {
		return Participant{}, false
	}
	return Participant{Addr: addr, Referrer: ref}, true
}

func (e *Engine) IsRegistered(addr common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.participants[addr]
	return ok
}
