package ledger_test

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"greeting-cards/events"
	. "greeting-cards/ledger"
	"greeting-cards/model"
)

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	user1 = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	user2 = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newLedger(t *testing.T, edit ...func(*Config)) *Ledger {
	t.Helper()
	cfg := Config{
		Name:     "Evrlink Greeting Cards",
		Symbol:   "EVRLINK",
		Admin:    owner,
		Deployer: owner,
		Logger:   quietLogger(),
	}
	for _, e := range edit {
		e(&cfg)
	}
	l, err := New(cfg)
	require.NoError(t, err)
	return l
}

func ether(s string) *model.DDecimal {
	return model.MustParseEther(s)
}

func refs(n int) []string {
	r := make([]string, n)
	for i := range r {
		r[i] = fmt.Sprintf("ipfs://QmHash%d", i+1)
	}
	return r
}

func TestDeployment(t *testing.T) {
	l := newLedger(t)

	assert.Equal(t, owner, l.Admin())
	assert.Equal(t, "Evrlink Greeting Cards", l.Name())
	assert.Equal(t, "EVRLINK", l.Symbol())
	assert.Equal(t, "20000000000000000", l.MintPrice().String())
	assert.Equal(t, uint64(10000), l.MaxSupply())
	assert.Zero(t, l.TotalSupply())
	assert.True(t, l.Treasury().IsZero())
}

func TestNew(t *testing.T) {
	t.Run("Zero admin defaults to deployer", func(t *testing.T) {
		l := newLedger(t, func(c *Config) {
			c.Admin = common.Address{}
			c.Deployer = user2
		})
		assert.Equal(t, user2, l.Admin())
	})

	cases := map[string]func(*Config){
		"Empty name":   func(c *Config) { c.Name = "" },
		"Empty symbol": func(c *Config) { c.Symbol = "" },
		"No admin":     func(c *Config) { c.Admin, c.Deployer = common.Address{}, common.Address{} },
	}
	for name, edit := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Config{Name: "Cards", Symbol: "CARD", Admin: owner, Logger: quietLogger()}
			edit(&cfg)
			_, err := New(cfg)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestMint(t *testing.T) {
	l := newLedger(t)

	card, err := l.Mint("ipfs://QmTestHash", user1, ether("0.02"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), card.ID)
	assert.Equal(t, user1, card.Owner)

	got, err := l.OwnerOf(1)
	require.NoError(t, err)
	assert.Equal(t, user1, got)

	uri, err := l.TokenURI(1)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://QmTestHash", uri)

	assert.Equal(t, uint64(1), l.TotalSupply())
	assert.Equal(t, uint64(1), l.BalanceOf(user1))
	assert.Equal(t, 0, l.Treasury().Cmp(ether("0.02")))
}

func TestMintInsufficientPayment(t *testing.T) {
	l := newLedger(t)

	for _, payment := range []*model.DDecimal{ether("0.01"), ether("0.019999999999999999"), model.NewDecimal(), nil, model.NewDecimalFromInt64(-1)} {
		_, err := l.Mint("ipfs://QmTestHash", user1, payment)
		require.ErrorIs(t, err, ErrInsufficientPayment)
	}

	assert.Zero(t, l.TotalSupply())
	assert.True(t, l.Treasury().IsZero())
	_, err := l.OwnerOf(1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMintZeroRecipient(t *testing.T) {
	l := newLedger(t)

	_, err := l.Mint("ipfs://QmTestHash", common.Address{}, ether("0.02"))
	require.ErrorIs(t, err, ErrInvalidRecipient)
	_, err = l.BatchMint(refs(2), common.Address{}, ether("0.04"))
	require.ErrorIs(t, err, ErrInvalidRecipient)
	assert.Zero(t, l.TotalSupply())
}

func TestMintIncrementsSupply(t *testing.T) {
	l := newLedger(t)

	for i := 1; i <= 25; i++ {
		before := l.TotalSupply()
		card, err := l.Mint(fmt.Sprintf("ipfs://%d", i), user1, ether("0.02"))
		require.NoError(t, err)
		assert.Equal(t, before+1, l.TotalSupply())
		assert.Equal(t, l.TotalSupply(), card.ID)
	}
}

func TestOverpaymentIsRetained(t *testing.T) {
	l := newLedger(t)

	_, err := l.Mint("ipfs://a", user1, ether("0.05"))
	require.NoError(t, err)
	_, err = l.BatchMint(refs(2), user1, ether("0.1"))
	require.NoError(t, err)

	assert.Equal(t, "0.15", model.FormatEther(l.Treasury()))
}

func TestBatchMint(t *testing.T) {
	l := newLedger(t)
	uris := []string{"ipfs://QmHash1", "ipfs://QmHash2", "ipfs://QmHash3"}

	cards, err := l.BatchMint(uris, user1, ether("0.06"))
	require.NoError(t, err)
	require.Len(t, cards, 3)

	for i, uri := range uris {
		id := uint64(i + 1)
		assert.Equal(t, id, cards[i].ID)

		got, err := l.OwnerOf(id)
		require.NoError(t, err)
		assert.Equal(t, user1, got)

		gotURI, err := l.TokenURI(id)
		require.NoError(t, err)
		assert.Equal(t, uri, gotURI)
	}
	assert.Equal(t, []uint64{1, 2, 3}, l.TokensOf(user1))
}

func TestBatchMintIsConsecutive(t *testing.T) {
	l := newLedger(t)
	_, err := l.Mint("ipfs://first", user2, ether("0.02"))
	require.NoError(t, err)

	before := l.TotalSupply()
	cards, err := l.BatchMint(refs(7), user1, ether("0.14"))
	require.NoError(t, err)
	for i, card := range cards {
		assert.Equal(t, before+uint64(i)+1, card.ID)
		assert.Equal(t, fmt.Sprintf("ipfs://QmHash%d", i+1), card.MetadataRef)
	}
}

func TestBatchMintRejections(t *testing.T) {
	l := newLedger(t)

	_, err := l.BatchMint(nil, user1, ether("1"))
	require.ErrorIs(t, err, ErrEmptyBatch)

	_, err = l.BatchMint([]string{}, user1, ether("1"))
	require.ErrorIs(t, err, ErrEmptyBatch)

	_, err = l.BatchMint(refs(3), user1, ether("0.059999999999999999"))
	require.ErrorIs(t, err, ErrInsufficientPayment)

	assert.Zero(t, l.TotalSupply())
	assert.True(t, l.Treasury().IsZero())
}

func TestBatchMintPastCapIsRejectedWhole(t *testing.T) {
	l := newLedger(t)
	price := l.MintPrice()

	_, err := l.BatchMint(refs(MaxSupply-2), user1, price.MulInt64(MaxSupply-2))
	require.NoError(t, err)
	treasury := l.Treasury()

	_, err = l.BatchMint(refs(3), user2, price.MulInt64(3))
	require.ErrorIs(t, err, ErrSupplyExhausted)
	assert.Equal(t, uint64(MaxSupply-2), l.TotalSupply())
	assert.Zero(t, l.BalanceOf(user2))
	assert.Equal(t, 0, treasury.Cmp(l.Treasury()))

	// exactly the remainder still fits
	cards, err := l.BatchMint(refs(2), user2, price.MulInt64(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(MaxSupply), cards[1].ID)
	assert.True(t, l.Exhausted())
}

func TestExhaustion(t *testing.T) {
	l := newLedger(t)
	price := l.MintPrice()

	_, err := l.BatchMint(refs(MaxSupply-1), user1, price.MulInt64(MaxSupply-1))
	require.NoError(t, err)
	require.False(t, l.Exhausted())

	card, err := l.Mint("ipfs://last", user2, price)
	require.NoError(t, err)
	assert.Equal(t, uint64(MaxSupply), card.ID)
	assert.True(t, l.Exhausted())

	_, err = l.Mint("ipfs://one-too-many", user2, price)
	require.ErrorIs(t, err, ErrSupplyExhausted)
	_, err = l.BatchMint(refs(1), user2, price)
	require.ErrorIs(t, err, ErrSupplyExhausted)
	assert.Equal(t, uint64(MaxSupply), l.TotalSupply())
	assert.Equal(t, 0, price.MulInt64(MaxSupply).Cmp(l.Treasury()))
}

func TestWithdraw(t *testing.T) {
	balances := NewBalances()
	l := newLedger(t, func(c *Config) { c.Payee = balances })

	_, err := l.Mint("ipfs://QmTestHash", user1, ether("0.02"))
	require.NoError(t, err)

	initial := balances.BalanceOf(owner)
	amount, err := l.Withdraw(owner)
	require.NoError(t, err)
	assert.Equal(t, "0.02", model.FormatEther(amount))
	assert.Equal(t, 1, balances.BalanceOf(owner).Cmp(initial))
	assert.True(t, l.Treasury().IsZero())
	assert.Equal(t, 0, amount.Cmp(l.Withdrawn()))
}

func TestWithdrawEmptyTreasury(t *testing.T) {
	balances := NewBalances()
	l := newLedger(t, func(c *Config) { c.Payee = balances })

	for i := 0; i < 2; i++ {
		amount, err := l.Withdraw(owner)
		require.NoError(t, err)
		assert.True(t, amount.IsZero())
		assert.True(t, l.Treasury().IsZero())
	}
	assert.True(t, balances.BalanceOf(owner).IsZero())
}

func TestWithdrawUnauthorized(t *testing.T) {
	l := newLedger(t)
	_, err := l.Mint("ipfs://QmTestHash", user1, ether("0.02"))
	require.NoError(t, err)

	_, err = l.Withdraw(user1)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "0.02", model.FormatEther(l.Treasury()))
}

type failingPayee struct{}

func (failingPayee) Credit(common.Address, *model.DDecimal) error {
	return errors.New("recipient rejected the transfer")
}

func TestWithdrawPayoutFailure(t *testing.T) {
	l := newLedger(t, func(c *Config) { c.Payee = failingPayee{} })
	_, err := l.Mint("ipfs://QmTestHash", user1, ether("0.02"))
	require.NoError(t, err)

	_, err = l.Withdraw(owner)
	require.ErrorIs(t, err, ErrPayoutFailed)
	assert.Equal(t, "0.02", model.FormatEther(l.Treasury()))
	assert.True(t, l.Withdrawn().IsZero())
}

func TestTreasuryConservation(t *testing.T) {
	l := newLedger(t)
	paid := model.NewDecimal()
	withdrawn := model.NewDecimal()

	payments := []string{"0.02", "0.03", "0.02", "1", "0.021"}
	for i, p := range payments {
		_, err := l.Mint(fmt.Sprintf("ipfs://%d", i), user1, ether(p))
		require.NoError(t, err)
		paid = paid.Add(ether(p))

		if i%2 == 1 {
			amount, err := l.Withdraw(owner)
			require.NoError(t, err)
			withdrawn = withdrawn.Add(amount)
		}
		assert.Equal(t, 0, paid.Sub(withdrawn).Cmp(l.Treasury()))
		assert.GreaterOrEqual(t, l.Treasury().Sign(), 0)
	}

	_, err := l.BatchMint(refs(2), user2, ether("0.07"))
	require.NoError(t, err)
	paid = paid.Add(ether("0.07"))
	assert.Equal(t, 0, paid.Sub(withdrawn).Cmp(l.Treasury()))
	assert.Equal(t, 0, withdrawn.Cmp(l.Withdrawn()))
}

func TestTransfer(t *testing.T) {
	l := newLedger(t)
	_, err := l.BatchMint(refs(2), user1, ether("0.04"))
	require.NoError(t, err)

	require.ErrorIs(t, l.Transfer(user2, user2, 1), ErrUnauthorized)
	require.ErrorIs(t, l.Transfer(user1, common.Address{}, 1), ErrInvalidRecipient)
	require.ErrorIs(t, l.Transfer(user1, user2, 3), ErrNotFound)

	require.NoError(t, l.Transfer(user1, user2, 1))
	got, err := l.OwnerOf(1)
	require.NoError(t, err)
	assert.Equal(t, user2, got)
	assert.Equal(t, uint64(1), l.BalanceOf(user1))
	assert.Equal(t, uint64(1), l.BalanceOf(user2))
	assert.Equal(t, []uint64{2}, l.TokensOf(user1))
	assert.Equal(t, uint64(2), l.TotalSupply())
}

func TestReadUnknownCard(t *testing.T) {
	l := newLedger(t)

	for _, id := range []uint64{0, 1, MaxSupply + 1} {
		_, err := l.OwnerOf(id)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = l.TokenURI(id)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = l.Card(id)
		require.ErrorIs(t, err, ErrNotFound)
	}
}

func TestReturnedCardsAreCopies(t *testing.T) {
	l := newLedger(t)
	card, err := l.Mint("ipfs://a", user1, ether("0.02"))
	require.NoError(t, err)

	card.Owner = user2
	card.MetadataRef = "changed"

	got, err := l.Card(1)
	require.NoError(t, err)
	assert.Equal(t, user1, got.Owner)
	assert.Equal(t, "ipfs://a", got.MetadataRef)
}

func TestNotifications(t *testing.T) {
	bus := events.NewBus(quietLogger())
	l := newLedger(t, func(c *Config) { c.Bus = bus })

	var got []events.Event
	events.SubscribeSync(bus, func(e events.Event) { got = append(got, e) })

	_, err := l.Mint("ipfs://a", user1, ether("0.02"))
	require.NoError(t, err)
	_, err = l.BatchMint([]string{"ipfs://b", "ipfs://c"}, user2, ether("0.04"))
	require.NoError(t, err)
	_, err = l.Withdraw(owner)
	require.NoError(t, err)
	require.NoError(t, l.Transfer(user1, user2, 1))

	// rejected operations publish nothing
	_, err = l.Mint("ipfs://d", user1, ether("0.01"))
	require.Error(t, err)
	_, err = l.Withdraw(user1)
	require.Error(t, err)

	require.Equal(t, []events.Event{
		events.Minted{ID: 1, Recipient: user1, MetadataRef: "ipfs://a"},
		events.BatchMinted{IDs: []uint64{2, 3}, Recipient: user2},
		events.Minted{ID: 2, Recipient: user2, MetadataRef: "ipfs://b"},
		events.Minted{ID: 3, Recipient: user2, MetadataRef: "ipfs://c"},
		events.Withdrawn{To: owner, Amount: ether("0.06")},
		events.Transferred{ID: 1, From: user1, To: user2},
	}, got)
}

func TestNotificationAfterCommit(t *testing.T) {
	bus := events.NewBus(quietLogger())
	l := newLedger(t, func(c *Config) { c.Bus = bus })

	var owners []common.Address
	events.SubscribeSync(bus, func(e events.Minted) {
		o, err := l.OwnerOf(e.ID)
		if err == nil {
			owners = append(owners, o)
		}
	})

	_, err := l.BatchMint(refs(2), user1, ether("0.04"))
	require.NoError(t, err)
	assert.Equal(t, []common.Address{user1, user1}, owners)
}

func TestReentrantSubscriber(t *testing.T) {
	bus := events.NewBus(quietLogger())
	l := newLedger(t, func(c *Config) { c.Bus = bus })

	var ids []uint64
	events.SubscribeSync(bus, func(e events.Minted) {
		ids = append(ids, e.ID)
		if e.ID == 1 {
			_, err := l.Mint("ipfs://from-subscriber", user2, ether("0.02"))
			assert.NoError(t, err)
		}
	})

	_, err := l.Mint("ipfs://a", user1, ether("0.02"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)
}

func TestConcurrentMintsRespectCap(t *testing.T) {
	bus := events.NewBus(quietLogger())
	l := newLedger(t, func(c *Config) { c.Bus = bus })
	price := l.MintPrice()

	const start = MaxSupply - 10
	_, err := l.BatchMint(refs(start), user1, price.MulInt64(start))
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []uint64
	events.SubscribeSync(bus, func(e events.Minted) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.ID)
	})

	var ok, exhausted atomic.Int64
	var g errgroup.Group
	for i := 0; i < 50; i++ {
		i := i
		g.Go(func() error {
			var err error
			if i%5 == 0 {
				_, err = l.BatchMint(refs(3), user2, price.MulInt64(3))
			} else {
				_, err = l.Mint(fmt.Sprintf("ipfs://c%d", i), user2, price)
			}
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrSupplyExhausted):
				exhausted.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(50), ok.Load()+exhausted.Load())
	assert.Equal(t, uint64(MaxSupply), l.TotalSupply())

	// every id after the pre-mint went to user2 exactly once
	ids := l.TokensOf(user2)
	require.Len(t, ids, 10)
	for i, id := range ids {
		assert.Equal(t, uint64(start+i+1), id)
	}
	assert.Equal(t, 0, price.MulInt64(MaxSupply).Cmp(l.Treasury()))

	// notifications arrive in commit order
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 10)
	for i, id := range seen {
		assert.Equal(t, uint64(start+i+1), id)
	}
}

func TestSnapshotRestore(t *testing.T) {
	l := newLedger(t)
	_, err := l.BatchMint(refs(3), user1, ether("0.07"))
	require.NoError(t, err)
	require.NoError(t, l.Transfer(user1, user2, 2))
	_, err = l.Withdraw(owner)
	require.NoError(t, err)
	_, err = l.Mint("ipfs://after", user2, ether("0.02"))
	require.NoError(t, err)

	snap := l.Snapshot()
	assert.Len(t, snap.Cards, 4)

	// the snapshot is detached from the ledger
	snap.Cards[0].Owner = user2
	got, err := l.OwnerOf(1)
	require.NoError(t, err)
	assert.Equal(t, user1, got)
	snap.Cards[0].Owner = user1

	restored, err := Restore(Config{Logger: quietLogger()}, snap)
	require.NoError(t, err)
	assert.Equal(t, l.Name(), restored.Name())
	assert.Equal(t, l.Symbol(), restored.Symbol())
	assert.Equal(t, owner, restored.Admin())
	assert.Equal(t, uint64(4), restored.TotalSupply())
	assert.Equal(t, []uint64{1, 3}, restored.TokensOf(user1))
	assert.Equal(t, []uint64{2, 4}, restored.TokensOf(user2))
	assert.Equal(t, "0.02", model.FormatEther(restored.Treasury()))
	assert.Equal(t, "0.07", model.FormatEther(restored.Withdrawn()))

	card, err := restored.Mint("ipfs://next", user1, ether("0.02"))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), card.ID)
}

func TestRestoreRejectsInconsistentSnapshot(t *testing.T) {
	base := func() *Snapshot {
		return &Snapshot{
			Name:   "Cards",
			Symbol: "CARD",
			Admin:  owner,
			Cards: []*model.Card{
				{ID: 1, Owner: user1, MetadataRef: "a"},
				{ID: 2, Owner: user1, MetadataRef: "b"},
			},
		}
	}

	gap := base()
	gap.Cards[1].ID = 3
	_, err := Restore(Config{Logger: quietLogger()}, gap)
	require.ErrorIs(t, err, ErrInvalidConfig)

	noOwner := base()
	noOwner.Cards[0].Owner = common.Address{}
	_, err = Restore(Config{Logger: quietLogger()}, noOwner)
	require.ErrorIs(t, err, ErrInvalidConfig)

	negative := base()
	negative.Treasury = model.NewDecimalFromInt64(-1)
	_, err = Restore(Config{Logger: quietLogger()}, negative)
	require.ErrorIs(t, err, ErrInvalidConfig)

	missing := base()
	missing.Cards[1] = nil
	_, err = Restore(Config{Logger: quietLogger()}, missing)
	require.ErrorIs(t, err, ErrInvalidConfig)

	foreign := base()
	foreign.Cards[0].Collection = "Other Cards"
	_, err = Restore(Config{Logger: quietLogger()}, foreign)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Restore(Config{Logger: quietLogger()}, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	restored, err := Restore(Config{Logger: quietLogger()}, base())
	require.NoError(t, err)
	card, err := restored.Card(1)
	require.NoError(t, err)
	assert.Equal(t, "Cards", card.Collection)
}

func TestCardsCarryCollection(t *testing.T) {
	l := newLedger(t)
	card, err := l.Mint("ipfs://QmTestHash", user1, ether("0.02"))
	require.NoError(t, err)
	assert.Equal(t, "Evrlink Greeting Cards", card.Collection)

	other := newLedger(t, func(c *Config) { c.Name = "Other Cards" })
	card, err = other.Mint("ipfs://QmTestHash", user1, ether("0.02"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), card.ID)
	assert.Equal(t, "Other Cards", card.Collection)
}

// queuedPayee hands credits off to a consumer that reads the ledger once
// Withdraw has returned.
type queuedPayee struct {
	credits chan *model.DDecimal
}

func (p *queuedPayee) Credit(_ common.Address, amount *model.DDecimal) error {
	p.credits <- amount.Copy()
	return nil
}

func TestPayeeReadsLedgerAfterWithdraw(t *testing.T) {
	payee := &queuedPayee{credits: make(chan *model.DDecimal, 1)}
	l := newLedger(t, func(c *Config) { c.Payee = payee })
	_, err := l.Mint("ipfs://QmTestHash", user1, ether("0.03"))
	require.NoError(t, err)

	var treasury, withdrawn *model.DDecimal
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-payee.credits
		treasury = l.Treasury()
		withdrawn = l.Withdrawn()
	}()

	amount, err := l.Withdraw(owner)
	require.NoError(t, err)
	<-done

	assert.Equal(t, "0.03", model.FormatEther(amount))
	assert.True(t, treasury.IsZero())
	assert.Equal(t, "0.03", model.FormatEther(withdrawn))
}

func TestDefaultBusLogsToLedgerLogger(t *testing.T) {
	log, hook := test.NewNullLogger()
	l := newLedger(t, func(c *Config) { c.Logger = logrus.NewEntry(log) })

	events.SubscribeSync(l.Bus(), func(events.Minted) { panic("boom") })
	_, err := l.Mint("ipfs://QmTestHash", user1, ether("0.02"))
	require.NoError(t, err)

	var panicked *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "Subscriber panicked" {
			panicked = e
		}
	}
	require.NotNil(t, panicked)
	assert.Equal(t, "Evrlink Greeting Cards", panicked.Data["collection"])
	assert.Equal(t, "GreetingCardMinted", panicked.Data["event"])
}
