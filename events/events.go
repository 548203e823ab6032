package events

import (
	"github.com/ethereum/go-ethereum/common"

	"greeting-cards/model"
)

type Event interface {
	EventName() string
}

// Minted is published once per card, after the card is committed.
type Minted struct {
	ID          uint64
	Recipient   common.Address
	MetadataRef string
}

// BatchMinted is published once per successful batch, before the per-card
// Minted events of the same batch.
type BatchMinted struct {
	IDs       []uint64
	Recipient common.Address
}

type Withdrawn struct {
	To     common.Address
	Amount *model.DDecimal
}

type Transferred struct {
	ID   uint64
	From common.Address
	To   common.Address
}

func (Minted) EventName() string      { return "GreetingCardMinted" }
func (BatchMinted) EventName() string { return "BatchMinted" }
func (Withdrawn) EventName() string   { return "Withdrawn" }
func (Transferred) EventName() string { return "Transfer" }
