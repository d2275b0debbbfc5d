package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNotController         = errors.New("only the ledger controller can mint or burn")
	ErrControllerBound       = errors.New("ledger controller already bound")
)

// Ledger is a fungible balance ledger for a single asset.
// Mint and burn are restricted to a one-time-bound controller address;
// everything else is plain balance bookkeeping.
// Thread-safe: one mutex guards all state, every operation is atomic.
type Ledger struct {
	mu sync.RWMutex

	symbol   string
	decimals uint8

	controller common.Address
	bound      bool

	totalSupply int64
	balances    map[common.Address]int64
	allowances  map[common.Address]map[common.Address]int64

	store *Store // nil for in-memory ledgers
}

// NewLedger creates an in-memory ledger.
func NewLedger(symbol string, decimals uint8) *Ledger {
	return &Ledger{
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]int64),
		allowances: make(map[common.Address]map[common.Address]int64),
	}
}

// NewPersistentLedger creates a ledger backed by a Pebble store.
// Balances are loaded lazily on first touch and written through on mutation.
// Multiple ledgers may share one store; keys are namespaced by symbol.
func NewPersistentLedger(symbol string, decimals uint8, store *Store) (*Ledger, error) {
	l := NewLedger(symbol, decimals)
	l.store = store

	supply, ok, err := store.LoadSupply(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s supply: %w", symbol, err)
	}
	if ok {
		l.totalSupply = supply
	}
	return l, nil
}

func (l *Ledger) Symbol() string  { return l.symbol }
func (l *Ledger) Decimals() uint8 { return l.decimals }

func (l *Ledger) TotalSupply() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalSupply
}

// BindController binds the mint/burn controller exactly once.
// A second call is a configuration-integrity violation.
func (l *Ledger) BindController(controller common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.bound {
		return ErrControllerBound
	}
	l.controller = controller
	l.bound = true
	return nil
}

func (l *Ledger) Controller() common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.controller
}

func (l *Ledger) BalanceOf(addr common.Address) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(addr)
}

// balanceLocked returns the cached balance, falling back to the store.
// Assumes l.mu is held.
func (l *Ledger) balanceLocked(addr common.Address) int64 {
	if bal, ok := l.balances[addr]; ok {
		return bal
	}
	if l.store != nil {
		if bal, ok, err := l.store.LoadBalance(l.symbol, addr); err == nil && ok {
			l.balances[addr] = bal
			return bal
		}
	}
	return 0
}

func (l *Ledger) setBalanceLocked(addr common.Address, bal int64) error {
	l.balances[addr] = bal
	if l.store != nil {
		if err := l.store.SaveBalance(l.symbol, addr, bal); err != nil {
			return fmt.Errorf("failed to persist %s balance: %w", l.symbol, err)
		}
	}
	return nil
}

// Mint issues new units to an account. Controller only.
func (l *Ledger) Mint(caller, to common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("mint %d %s: %w", amount, l.symbol, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.bound || caller != l.controller {
		return fmt.Errorf("mint %s by %s: %w", l.symbol, caller.Hex(), ErrNotController)
	}
	if err := l.setBalanceLocked(to, l.balanceLocked(to)+amount); err != nil {
		return err
	}
	l.totalSupply += amount
	if l.store != nil {
		if err := l.store.SaveSupply(l.symbol, l.totalSupply); err != nil {
			return fmt.Errorf("failed to persist %s supply: %w", l.symbol, err)
		}
	}
	return nil
}

// Burn destroys units held by an account. The controller may burn from any
// account; everyone else may only burn their own balance.
func (l *Ledger) Burn(caller, from common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("burn %d %s: %w", amount, l.symbol, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != from && (!l.bound || caller != l.controller) {
		return fmt.Errorf("burn %s by %s: %w", l.symbol, caller.Hex(), ErrNotController)
	}
	bal := l.balanceLocked(from)
	if bal < amount {
		return fmt.Errorf("burn %d %s from %s (have %d): %w", amount, l.symbol, from.Hex(), bal, ErrInsufficientBalance)
	}
	if err := l.setBalanceLocked(from, bal-amount); err != nil {
		return err
	}
	l.totalSupply -= amount
	if l.store != nil {
		if err := l.store.SaveSupply(l.symbol, l.totalSupply); err != nil {
			return fmt.Errorf("failed to persist %s supply: %w", l.symbol, err)
		}
	}
	return nil
}

// Transfer moves units from the caller's own account.
func (l *Ledger) Transfer(from, to common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer %d %s: %w", amount, l.symbol, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(from, to, amount)
}

func (l *Ledger) transferLocked(from, to common.Address, amount int64) error {
	fromBal := l.balanceLocked(from)
	if fromBal < amount {
		return fmt.Errorf("transfer %d %s from %s (have %d): %w", amount, l.symbol, from.Hex(), fromBal, ErrInsufficientBalance)
	}
	if from == to {
		return nil
	}
	if err := l.setBalanceLocked(from, fromBal-amount); err != nil {
		return err
	}
	return l.setBalanceLocked(to, l.balanceLocked(to)+amount)
}

// Approve lets spender move up to amount from owner's account.
func (l *Ledger) Approve(owner, spender common.Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("approve %d %s: %w", amount, l.symbol, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[common.Address]int64)
	}
	l.allowances[owner][spender] = amount
	if l.store != nil {
		if err := l.store.SaveAllowance(l.symbol, owner, spender, amount); err != nil {
			return fmt.Errorf("failed to persist %s allowance: %w", l.symbol, err)
		}
	}
	return nil
}

func (l *Ledger) Allowance(owner, spender common.Address) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowanceLocked(owner, spender)
}

func (l *Ledger) allowanceLocked(owner, spender common.Address) int64 {
	if m, ok := l.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	if l.store != nil {
		if a, ok, err := l.store.LoadAllowance(l.symbol, owner, spender); err == nil && ok {
			if l.allowances[owner] == nil {
				l.allowances[owner] = make(map[common.Address]int64)
			}
			l.allowances[owner][spender] = a
			return a
		}
	}
	return 0
}

// TransferFrom moves units on behalf of owner, consuming allowance.
func (l *Ledger) TransferFrom(spender, from, to common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transferFrom %d %s: %w", amount, l.symbol, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := l.allowanceLocked(from, spender)
	if allowed < amount {
		return fmt.Errorf("transferFrom %d %s, spender %s allowed %d: %w", amount, l.symbol, spender.Hex(), allowed, ErrInsufficientAllowance)
	}
	if err := l.transferLocked(from, to, amount); err != nil {
		return err
	}
	l.allowances[from][spender] = allowed - amount
	if l.store != nil {
		if err := l.store.SaveAllowance(l.symbol, from, spender, allowed-amount); err != nil {
			return fmt.Errorf("failed to persist %s allowance: %w", l.symbol, err)
		}
	}
	return nil
}
