package platform

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/keskad/tokenfair/pkg/governance"
)

// ExecuteAction applies governance-approved administrative calls. Retained
// proceeds leave the engine only through here: either paid out to a
// recipient or destroyed.
func (e *Engine) ExecuteAction(caller common.Address, a governance.Action) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.dao {
		return fmt.Errorf("execute %s by %s: %w", a.Kind, caller.Hex(), ErrUnauthorized)
	}

	switch a.Kind {
	case governance.ActionSendCommission:
		amount := e.retained
		if amount > 0 {
			if err := e.settle.Transfer(e.self, a.Addr, amount); err != nil {
				return fmt.Errorf("send commission: %w", err)
			}
			e.retained = 0
		}
		e.log.Info("commission_sent", zap.String("to", a.Addr.Hex()), zap.Int64("amount", amount))
		return nil
	case governance.ActionBurnRetained:
		amount := e.retained
		if amount > 0 {
			if err := e.settle.Burn(e.self, e.self, amount); err != nil {
				return fmt.Errorf("burn retained: %w", err)
			}
			e.retained = 0
		}
		e.log.Info("retained_burned", zap.Int64("amount", amount))
		return nil
	default:
		return fmt.Errorf("execute %s on platform: %w", a.Kind, governance.ErrUnknownAction)
	}
}

var _ governance.Executor = (*Engine)(nil)
