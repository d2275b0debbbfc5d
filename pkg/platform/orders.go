package platform

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// AddOrder posts an ask for quantity at the given unit price. Requires an
// active, non-expired trade round; the quantity is escrowed from the seller.
// Returns the order id.
func (e *Engine) AddOrder(caller common.Address, price, quantity int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if e.round.Kind != RoundTrade || e.round.Expired(now) {
		return 0, fmt.Errorf("add order by %s: %w", caller.Hex(), ErrTradeRoundOver)
	}
	if price <= 0 || quantity <= 0 {
		return 0, fmt.Errorf("add order by %s, price %d, quantity %d: %w", caller.Hex(), price, quantity, ErrInvalidVolume)
	}

	if err := e.sale.Transfer(caller, e.self, quantity); err != nil {
		return 0, fmt.Errorf("add order by %s: %w", caller.Hex(), err)
	}

	order := &Order{
		ID:        int64(len(e.orders)),
		Seller:    caller,
		Price:     price,
		Remaining: quantity,
		Open:      true,
	}
	e.orders = append(e.orders, order)

	e.log.Info("order_added",
		zap.Int64("id", order.ID),
		zap.String("seller", caller.Hex()),
		zap.Int64("price", price),
		zap.Int64("quantity", quantity))
	return order.ID, nil
}

// RemoveOrder withdraws quantity from the caller's own order, refunding the
// escrowed sale-asset. A zero quantity withdraws the full remainder; the
// order closes when its remainder reaches zero.
func (e *Engine) RemoveOrder(caller common.Address, id, quantity int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, err := e.orderLocked(id)
	if err != nil {
		return err
	}
	if order.Seller != caller {
		return fmt.Errorf("remove order %d by %s: %w", id, caller.Hex(), ErrNotOwner)
	}
	if !order.Open {
		return fmt.Errorf("remove order %d: %w", id, ErrOrderClosed)
	}
	if quantity < 0 || quantity > order.Remaining {
		return fmt.Errorf("remove %d of order %d with %d left: %w", quantity, id, order.Remaining, ErrInvalidVolume)
	}
	if quantity == 0 {
		quantity = order.Remaining
	}

	if err := e.sale.Transfer(e.self, caller, quantity); err != nil {
		// unreachable: the quantity was escrowed when the order was added
		panic(fmt.Errorf("order escrow underflow: %w", err))
	}
	order.Remaining -= quantity
	if order.Remaining == 0 {
		order.Open = false
	}

	e.log.Info("order_removed",
		zap.Int64("id", id),
		zap.Int64("quantity", quantity),
		zap.Int64("remaining", order.Remaining))
	return nil
}

// RedeemOrder fills an open order. The fill quantity is paid/price
// floor-divided and capped at the order's remainder; only the capped cost
// leaves the filler. The seller receives their share of the accepted
// payment; the filler's referrers take their cut when present, and unmatched
// referral shares default to the seller. The settlement value of the fill
// accrues to the round's traded volume.
func (e *Engine) RedeemOrder(caller common.Address, id, paid int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if e.round.Kind != RoundTrade || e.round.Expired(now) {
		return 0, fmt.Errorf("redeem order %d by %s: %w", id, caller.Hex(), ErrTradeRoundOver)
	}

	order, err := e.orderLocked(id)
	if err != nil {
		return 0, err
	}
	if !order.Open {
		return 0, fmt.Errorf("redeem order %d: %w", id, ErrOrderClosed)
	}
	if paid < order.Price {
		return 0, fmt.Errorf("redeem order %d with %d at price %d: %w", id, paid, order.Price, ErrInsufficientFunds)
	}

	quantity := paid / order.Price
	if quantity > order.Remaining {
		quantity = order.Remaining
	}
	cost := quantity * order.Price

	if err := e.settle.Transfer(caller, e.self, cost); err != nil {
		return 0, fmt.Errorf("redeem order %d by %s: %w", id, caller.Hex(), err)
	}

	// split the accepted payment: per-level referral cut when the filler has
	// the referrer, everything else to the seller
	var ref1Share, ref2Share int64
	if ref1 := e.participants[caller]; ref1 != (common.Address{}) {
		ref1Share = cost * e.cfg.TradeRefBps / 10_000
		e.mustPay(ref1, ref1Share)
		if ref2 := e.participants[ref1]; ref2 != (common.Address{}) {
			ref2Share = cost * e.cfg.TradeRefBps / 10_000
			e.mustPay(ref2, ref2Share)
		}
	}
	e.mustPay(order.Seller, cost-ref1Share-ref2Share)

	if err := e.sale.Transfer(e.self, caller, quantity); err != nil {
		// unreachable: the quantity was escrowed when the order was added
		panic(fmt.Errorf("order escrow underflow: %w", err))
	}
	order.Remaining -= quantity
	if order.Remaining == 0 {
		order.Open = false
	}
	e.tradeVolume += cost

	e.log.Info("order_redeemed",
		zap.Int64("id", id),
		zap.String("filler", caller.Hex()),
		zap.Int64("quantity", quantity),
		zap.Int64("cost", cost),
		zap.Int64("remaining", order.Remaining))
	return quantity, nil
}

func (e *Engine) orderLocked(id int64) (*Order, error) {
	if id < 0 || id >= int64(len(e.orders)) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNoSuchOrder)
	}
	return e.orders[id], nil
}

// OrderInfo returns a copy of an order.
func (e *Engine) OrderInfo(id int64) (Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, err := e.orderLocked(id)
	if err != nil {
		return Order{}, err
	}
	return *order, nil
}

// Orders returns copies of all orders ever placed, open and closed.
func (e *Engine) Orders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Order, len(e.orders))
	for i, o := range e.orders {
		out[i] = *o
	}
	return out
}
