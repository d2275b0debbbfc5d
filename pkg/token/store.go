package token

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// Store provides Pebble-based persistence for ledger balances, allowances,
// and total supply. Thread-safe through the owning Ledger's mutex.
type Store struct {
	db *pebble.DB
}

// NewStore opens a Pebble database at the given path
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize: 32 << 20,                  // 32MB memtable
		MaxOpenFiles: 1000,
		BytesPerSync: 512 << 10, // 512KB
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveBalance(symbol string, addr common.Address, bal int64) error {
	if err := s.db.Set(balanceKey(symbol, addr), encodeInt64(bal), pebble.Sync); err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

// LoadBalance loads a balance. The second return is false if the account
// has never been written.
func (s *Store) LoadBalance(symbol string, addr common.Address) (int64, bool, error) {
	return s.getInt64(balanceKey(symbol, addr))
}

func (s *Store) SaveAllowance(symbol string, owner, spender common.Address, amount int64) error {
	if err := s.db.Set(allowanceKey(symbol, owner, spender), encodeInt64(amount), pebble.Sync); err != nil {
		return fmt.Errorf("failed to save allowance: %w", err)
	}
	return nil
}

func (s *Store) LoadAllowance(symbol string, owner, spender common.Address) (int64, bool, error) {
	return s.getInt64(allowanceKey(symbol, owner, spender))
}

func (s *Store) SaveSupply(symbol string, supply int64) error {
	if err := s.db.Set(supplyKey(symbol), encodeInt64(supply), pebble.Sync); err != nil {
		return fmt.Errorf("failed to save supply: %w", err)
	}
	return nil
}

func (s *Store) LoadSupply(symbol string) (int64, bool, error) {
	return s.getInt64(supplyKey(symbol))
}

func (s *Store) getInt64(key []byte) (int64, bool, error) {
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, false, fmt.Errorf("corrupt value at %s: %d bytes", key, len(val))
	}
	return int64(binary.BigEndian.Uint64(val)), true, nil
}

func encodeInt64(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}
