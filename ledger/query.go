package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	"greeting-cards/model"
)

func (l *Ledger) Name() string   { return l.name }
func (l *Ledger) Symbol() string { return l.symbol }

func (l *Ledger) Admin() common.Address { return l.admin }

// Price returns the price of one card in subunits.
func Price() *model.DDecimal { return mintPrice.Copy() }

func (l *Ledger) MintPrice() *model.DDecimal { return Price() }

func (l *Ledger) MaxSupply() uint64 { return MaxSupply }

func (l *Ledger) TotalSupply() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.cards))
}

// Exhausted reports whether the supply cap has been reached.
func (l *Ledger) Exhausted() bool {
	return l.TotalSupply() >= MaxSupply
}

func (l *Ledger) OwnerOf(id uint64) (common.Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	card, err := l.card(id)
	if err != nil {
		return common.Address{}, err
	}
	return card.Owner, nil
}

// TokenURI returns the metadata reference the card was minted with.
func (l *Ledger) TokenURI(id uint64) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	card, err := l.card(id)
	if err != nil {
		return "", err
	}
	return card.MetadataRef, nil
}

func (l *Ledger) Card(id uint64) (*model.Card, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	card, err := l.card(id)
	if err != nil {
		return nil, err
	}
	return card.Copy(), nil
}

func (l *Ledger) BalanceOf(owner common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.holdings[owner]
}

// TokensOf lists the ids owned by owner in ascending order.
func (l *Ledger) TokensOf(owner common.Address) []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]uint64, 0, l.holdings[owner])
	for _, card := range l.cards {
		if card.Owner == owner {
			ids = append(ids, card.ID)
		}
	}
	return ids
}

func (l *Ledger) Treasury() *model.DDecimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.treasury.Copy()
}

// Withdrawn returns the total paid out to the admin so far.
func (l *Ledger) Withdrawn() *model.DDecimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.withdrawn.Copy()
}
