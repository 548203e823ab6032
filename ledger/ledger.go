package ledger

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"greeting-cards/events"
	"greeting-cards/logger"
	"greeting-cards/model"
)

// MaxSupply is the number of cards that can ever be minted.
const MaxSupply = 10_000

// mintPrice is 0.02 native units, held in subunits.
var mintPrice = model.MustParseEther("0.02")

type Config struct {
	Name   string
	Symbol string
	// Admin may withdraw the treasury. When zero, Deployer becomes the admin.
	Admin    common.Address
	Deployer common.Address

	// Optional collaborators.
	Bus    *events.Bus
	Payee  Payee
	Logger *logrus.Entry
	Clock  func() time.Time
}

// Ledger issues greeting cards against payment. All state is guarded by one
// lock; every operation either commits completely or returns an error without
// touching state. Notifications are published after the commit, in commit
// order.
type Ledger struct {
	mu        sync.RWMutex
	name      string
	symbol    string
	admin     common.Address
	cards     []*model.Card // cards[i].ID == i+1
	holdings  map[common.Address]uint64
	treasury  *model.DDecimal
	withdrawn *model.DDecimal

	bus    *events.Bus
	payee  Payee
	logger *logrus.Entry
	clock  func() time.Time

	qmu      sync.Mutex
	queue    []events.Event
	draining bool
}

func New(cfg Config) (*Ledger, error) {
	if cfg.Name == "" {
		return nil, ErrInvalidConfig.WithFormat("name is empty")
	}
	if cfg.Symbol == "" {
		return nil, ErrInvalidConfig.WithFormat("symbol is empty")
	}

	admin := cfg.Admin
	if admin == (common.Address{}) {
		admin = cfg.Deployer
	}
	if admin == (common.Address{}) {
		return nil, ErrInvalidConfig.WithFormat("no admin: both admin and deployer are the zero address")
	}

	l := &Ledger{
		name:      cfg.Name,
		symbol:    cfg.Symbol,
		admin:     admin,
		holdings:  map[common.Address]uint64{},
		treasury:  model.NewDecimal(),
		withdrawn: model.NewDecimal(),
		bus:       cfg.Bus,
		payee:     cfg.Payee,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
	}
	if l.logger == nil {
		l.logger = logrus.NewEntry(logger.GetLogger())
	}
	l.logger = l.logger.WithField("collection", cfg.Name)
	if l.bus == nil {
		l.bus = events.NewBus(l.logger.WithField("module", "events"))
	}
	if l.payee == nil {
		l.payee = NewBalances()
	}
	if l.clock == nil {
		l.clock = time.Now
	}
	return l, nil
}

// Mint issues one card to recipient. Any payment above the mint price is
// kept in the treasury.
func (l *Ledger) Mint(metadataRef string, recipient common.Address, payment *model.DDecimal) (*model.Card, error) {
	if recipient == (common.Address{}) {
		return nil, ErrInvalidRecipient.WithFormat("mint to the zero address")
	}
	if payment.Cmp(mintPrice) < 0 {
		return nil, ErrInsufficientPayment.WithFormat("paid %s, mint price is %s", payment, mintPrice)
	}

	l.mu.Lock()
	if len(l.cards) >= MaxSupply {
		l.mu.Unlock()
		return nil, ErrSupplyExhausted.WithFormat("all %d cards have been minted", MaxSupply)
	}

	card := l.issue(metadataRef, recipient, l.clock())
	l.treasury = l.treasury.Add(payment)
	l.enqueue(events.Minted{ID: card.ID, Recipient: recipient, MetadataRef: metadataRef})
	out := card.Copy()
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"id":        out.ID,
		"recipient": recipient.Hex(),
		"payment":   payment.String(),
	}).Info("Minted greeting card")
	l.logExcess(payment, mintPrice)

	l.flush()
	return out, nil
}

// BatchMint issues one card per metadata reference, with consecutive ids in
// input order. The batch is all or nothing: if the remaining supply cannot
// hold every card, nothing is minted.
func (l *Ledger) BatchMint(metadataRefs []string, recipient common.Address, payment *model.DDecimal) ([]*model.Card, error) {
	n := len(metadataRefs)
	if n == 0 {
		return nil, ErrEmptyBatch.WithFormat("no metadata references")
	}
	if recipient == (common.Address{}) {
		return nil, ErrInvalidRecipient.WithFormat("mint to the zero address")
	}
	required := mintPrice.MulInt64(int64(n))
	if payment.Cmp(required) < 0 {
		return nil, ErrInsufficientPayment.WithFormat("paid %s, %d cards cost %s", payment, n, required)
	}

	l.mu.Lock()
	if n > MaxSupply-len(l.cards) {
		remaining := MaxSupply - len(l.cards)
		l.mu.Unlock()
		return nil, ErrSupplyExhausted.WithFormat("batch of %d exceeds the %d cards remaining", n, remaining)
	}

	now := l.clock()
	out := make([]*model.Card, n)
	ids := make([]uint64, n)
	minted := make([]events.Event, n)
	for i, ref := range metadataRefs {
		card := l.issue(ref, recipient, now)
		out[i] = card.Copy()
		ids[i] = card.ID
		minted[i] = events.Minted{ID: card.ID, Recipient: recipient, MetadataRef: ref}
	}
	l.treasury = l.treasury.Add(payment)
	l.enqueue(events.BatchMinted{IDs: ids, Recipient: recipient})
	l.enqueue(minted...)
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"first":     ids[0],
		"last":      ids[n-1],
		"recipient": recipient.Hex(),
		"payment":   payment.String(),
	}).Info("Batch minted greeting cards")
	l.logExcess(payment, required)

	l.flush()
	return out, nil
}

// Withdraw moves the whole treasury to the admin. An empty treasury is not an
// error; nothing is paid out and zero is returned. The payee is credited while
// the ledger is locked, see Payee.
func (l *Ledger) Withdraw(caller common.Address) (*model.DDecimal, error) {
	l.mu.Lock()
	if caller != l.admin {
		l.mu.Unlock()
		return nil, ErrUnauthorized.WithFormat("%s is not the admin", caller.Hex())
	}

	amount := l.treasury
	if amount.IsZero() {
		l.mu.Unlock()
		return model.NewDecimal(), nil
	}

	if err := l.payee.Credit(l.admin, amount); err != nil {
		l.mu.Unlock()
		return nil, ErrPayoutFailed.Wrap(err)
	}
	l.treasury = model.NewDecimal()
	l.withdrawn = l.withdrawn.Add(amount)
	l.enqueue(events.Withdrawn{To: l.admin, Amount: amount.Copy()})
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"admin":  caller.Hex(),
		"amount": model.FormatEther(amount),
	}).Info("Withdrew treasury")

	l.flush()
	return amount.Copy(), nil
}

// Transfer moves card id from its current owner, who must be the caller, to
// another address.
func (l *Ledger) Transfer(caller, to common.Address, id uint64) error {
	if to == (common.Address{}) {
		return ErrInvalidRecipient.WithFormat("transfer to the zero address")
	}

	l.mu.Lock()
	card, err := l.card(id)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	from := card.Owner
	if caller != from {
		l.mu.Unlock()
		return ErrUnauthorized.WithFormat("%s does not own card %d", caller.Hex(), id)
	}

	card.Owner = to
	l.holdings[from]--
	if l.holdings[from] == 0 {
		delete(l.holdings, from)
	}
	l.holdings[to]++
	l.enqueue(events.Transferred{ID: id, From: from, To: to})
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"id":   id,
		"from": from.Hex(),
		"to":   to.Hex(),
	}).Debug("Transferred greeting card")

	l.flush()
	return nil
}

// issue appends a new card. The caller must hold the write lock and must have
// checked the supply.
func (l *Ledger) issue(metadataRef string, recipient common.Address, now time.Time) *model.Card {
	card := &model.Card{
		Collection:  l.name,
		ID:          uint64(len(l.cards)) + 1,
		Owner:       recipient,
		MetadataRef: metadataRef,
		MintedAt:    now,
	}
	l.cards = append(l.cards, card)
	l.holdings[recipient]++
	return card
}

func (l *Ledger) card(id uint64) (*model.Card, error) {
	if id == 0 || id > uint64(len(l.cards)) {
		return nil, ErrNotFound.WithFormat("card %d does not exist", id)
	}
	return l.cards[id-1], nil
}

func (l *Ledger) logExcess(payment, required *model.DDecimal) {
	if payment.Cmp(required) > 0 {
		l.logger.WithField("excess", payment.Sub(required).String()).Debug("Overpayment retained")
	}
}

// enqueue queues notifications. The caller must hold the write lock, which
// makes the queue order the commit order.
func (l *Ledger) enqueue(evs ...events.Event) {
	l.qmu.Lock()
	defer l.qmu.Unlock()
	l.queue = append(l.queue, evs...)
}

// flush publishes queued notifications. Only one goroutine drains at a time;
// it keeps going until the queue is empty, so events enqueued by concurrent or
// re-entrant operations are published by the drainer, in order.
func (l *Ledger) flush() {
	l.qmu.Lock()
	if l.draining {
		l.qmu.Unlock()
		return
	}
	l.draining = true
	for len(l.queue) > 0 {
		batch := l.queue
		l.queue = nil
		l.qmu.Unlock()

		for _, e := range batch {
			l.bus.Publish(e)
		}

		l.qmu.Lock()
	}
	l.draining = false
	l.qmu.Unlock()
}

// Bus returns the bus the ledger publishes to.
func (l *Ledger) Bus() *events.Bus {
	return l.bus
}
