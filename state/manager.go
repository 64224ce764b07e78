package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"d2dtreasury/core/types"
	"d2dtreasury/native/deploy"
	"d2dtreasury/native/treasury"
	"d2dtreasury/storage"
)

var (
	ledgerKey      = []byte("treasury/ledger")
	positionPrefix = []byte("treasury/position/")
	requestPrefix  = []byte("deploy/request/")
	statsPrefix    = []byte("deploy/stats/")
	accountPrefix  = []byte("account/")
)

func prefixedKey(prefix, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return buf
}

// Manager persists the treasury records on a key-value database and exposes
// the load/store surface both engines run against. Balance accounts are RLP
// encoded; domain records are JSON encoded.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// TreasuryGet loads the singleton ledger record.
func (m *Manager) TreasuryGet() (*treasury.Ledger, bool) {
	data, err := m.db.Get(ledgerKey)
	if err != nil {
		return nil, false
	}
	ledger := new(treasury.Ledger)
	if err := json.Unmarshal(data, ledger); err != nil {
		return nil, false
	}
	sanitized, err := treasury.SanitizeLedger(ledger)
	if err != nil {
		return nil, false
	}
	return sanitized, true
}

// TreasuryPut stores the singleton ledger record.
func (m *Manager) TreasuryPut(ledger *treasury.Ledger) error {
	sanitized, err := treasury.SanitizeLedger(ledger)
	if err != nil {
		return fmt.Errorf("store ledger: %w", err)
	}
	data, err := json.Marshal(sanitized)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	return m.db.Put(ledgerKey, data)
}

// PositionGet loads a backer position by owner.
func (m *Manager) PositionGet(owner [20]byte) (*treasury.Position, bool) {
	data, err := m.db.Get(prefixedKey(positionPrefix, owner[:]))
	if err != nil {
		return nil, false
	}
	position := new(treasury.Position)
	if err := json.Unmarshal(data, position); err != nil {
		return nil, false
	}
	sanitized, err := treasury.SanitizePosition(position)
	if err != nil {
		return nil, false
	}
	return sanitized, true
}

// PositionPut stores a backer position keyed by its owner.
func (m *Manager) PositionPut(position *treasury.Position) error {
	sanitized, err := treasury.SanitizePosition(position)
	if err != nil {
		return fmt.Errorf("store position: %w", err)
	}
	data, err := json.Marshal(sanitized)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}
	return m.db.Put(prefixedKey(positionPrefix, sanitized.Owner[:]), data)
}

// DeployRequestGet loads a deploy request by its program hash.
func (m *Manager) DeployRequestGet(hash [32]byte) (*deploy.Request, bool) {
	data, err := m.db.Get(prefixedKey(requestPrefix, hash[:]))
	if err != nil {
		return nil, false
	}
	request := new(deploy.Request)
	if err := json.Unmarshal(data, request); err != nil {
		return nil, false
	}
	sanitized, err := deploy.SanitizeRequest(request)
	if err != nil {
		return nil, false
	}
	return sanitized, true
}

// DeployRequestPut stores a deploy request keyed by its program hash.
func (m *Manager) DeployRequestPut(request *deploy.Request) error {
	sanitized, err := deploy.SanitizeRequest(request)
	if err != nil {
		return fmt.Errorf("store deploy request: %w", err)
	}
	data, err := json.Marshal(sanitized)
	if err != nil {
		return fmt.Errorf("encode deploy request: %w", err)
	}
	return m.db.Put(prefixedKey(requestPrefix, sanitized.ProgramHash[:]), data)
}

// UserStatsGet loads a developer's session counters.
func (m *Manager) UserStatsGet(owner [20]byte) (*deploy.UserStats, bool) {
	data, err := m.db.Get(prefixedKey(statsPrefix, owner[:]))
	if err != nil {
		return nil, false
	}
	stats := new(deploy.UserStats)
	if err := json.Unmarshal(data, stats); err != nil {
		return nil, false
	}
	return stats, true
}

// UserStatsPut stores a developer's session counters.
func (m *Manager) UserStatsPut(stats *deploy.UserStats) error {
	if stats == nil {
		return fmt.Errorf("store user stats: nil record")
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode user stats: %w", err)
	}
	return m.db.Put(prefixedKey(statsPrefix, stats.Owner[:]), data)
}

// GetAccount loads a custody account. Unknown addresses resolve to an empty
// account rather than an error so custody identities spring into existence on
// first use.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	data, err := m.db.Get(prefixedKey(accountPrefix, addr[:]))
	if errors.Is(err, storage.ErrNotFound) {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if err != nil {
		return nil, err
	}
	account := new(types.Account)
	if err := rlp.DecodeBytes(data, account); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	return account, nil
}

// PutAccount stores a custody account.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("store account: nil record")
	}
	stored := account.Clone()
	if stored.Balance == nil {
		stored.Balance = big.NewInt(0)
	}
	data, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	return m.db.Put(prefixedKey(accountPrefix, addr[:]), data)
}
