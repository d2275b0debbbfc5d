package token

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Several ledgers share one database, so every key is
// namespaced by the asset symbol. Addresses are stored hex-encoded so the
// keyspace stays printable for debugging.

const (
	prefixBalance   = "bal:"
	prefixAllowance = "alw:"
	prefixSupply    = "sup:"
)

// balanceKey returns the key for a balance.
// Format: "bal:{symbol}:{address}"
func balanceKey(symbol string, addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, symbol, addr.Hex()))
}

// allowanceKey returns the key for an allowance edge.
// Format: "alw:{symbol}:{owner}:{spender}"
func allowanceKey(symbol string, owner, spender common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixAllowance, symbol, owner.Hex(), spender.Hex()))
}

// supplyKey returns the key for the total supply of an asset.
// Format: "sup:{symbol}"
func supplyKey(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixSupply, symbol))
}
