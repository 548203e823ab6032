package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	"greeting-cards/model"
)

// Snapshot is a point-in-time copy of a ledger.
type Snapshot struct {
	Name      string
	Symbol    string
	Admin     common.Address
	Treasury  *model.DDecimal
	Withdrawn *model.DDecimal
	Cards     []*model.Card
}

func (l *Ledger) Snapshot() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := &Snapshot{
		Name:      l.name,
		Symbol:    l.symbol,
		Admin:     l.admin,
		Treasury:  l.treasury.Copy(),
		Withdrawn: l.withdrawn.Copy(),
		Cards:     make([]*model.Card, len(l.cards)),
	}
	for i, card := range l.cards {
		s.Cards[i] = card.Copy()
	}
	return s
}

// Restore rebuilds a ledger from a snapshot. Identity and state come from the
// snapshot; cfg supplies the collaborators. The cards must carry ids 1..n in
// order with non-zero owners, and belong to the snapshot's collection when
// they name one.
func Restore(cfg Config, s *Snapshot) (*Ledger, error) {
	if s == nil {
		return nil, ErrInvalidConfig.WithFormat("no snapshot")
	}
	cfg.Name = s.Name
	cfg.Symbol = s.Symbol
	cfg.Admin = s.Admin
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}

	if len(s.Cards) > MaxSupply {
		return nil, ErrInvalidConfig.WithFormat("snapshot holds %d cards, max supply is %d", len(s.Cards), MaxSupply)
	}
	if s.Treasury.Sign() < 0 || s.Withdrawn.Sign() < 0 {
		return nil, ErrInvalidConfig.WithFormat("snapshot has a negative balance")
	}

	for i, card := range s.Cards {
		if card == nil {
			return nil, ErrInvalidConfig.WithFormat("snapshot card %d is missing", i+1)
		}
		if card.Collection != "" && card.Collection != s.Name {
			return nil, ErrInvalidConfig.WithFormat("snapshot card %d belongs to collection %q", card.ID, card.Collection)
		}
		if card.ID != uint64(i)+1 {
			return nil, ErrInvalidConfig.WithFormat("snapshot card %d has id %d", i+1, card.ID)
		}
		if card.Owner == (common.Address{}) {
			return nil, ErrInvalidConfig.WithFormat("snapshot card %d has no owner", card.ID)
		}
		card = card.Copy()
		card.Collection = l.name
		l.cards = append(l.cards, card)
		l.holdings[card.Owner]++
	}
	l.treasury = s.Treasury.Copy()
	l.withdrawn = s.Withdrawn.Copy()

	l.logger.WithField("minted", len(l.cards)).Info("Restored ledger")
	return l, nil
}
