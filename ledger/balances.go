package ledger

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"greeting-cards/model"
)

// Payee receives withdrawn treasury funds. Credit must either apply the whole
// amount or fail without effect.
//
// Credit runs while the ledger holds its write lock, so it must not call back
// into the ledger, not even a read accessor; doing so deadlocks. A payee that
// needs ledger state should hand the credit off and read after Withdraw
// returns.
type Payee interface {
	Credit(to common.Address, amount *model.DDecimal) error
}

// Balances is an in-memory book of external account balances.
type Balances struct {
	mu       sync.Mutex
	accounts map[common.Address]*model.DDecimal
}

func NewBalances() *Balances {
	return &Balances{accounts: map[common.Address]*model.DDecimal{}}
}

func (b *Balances) Credit(to common.Address, amount *model.DDecimal) error {
	if amount.Sign() < 0 {
		return ErrPayoutFailed.WithFormat("negative credit %s", amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[to] = b.accounts[to].Add(amount)
	return nil
}

func (b *Balances) BalanceOf(addr common.Address) *model.DDecimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accounts[addr].Copy()
}
