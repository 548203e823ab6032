package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Card is one minted greeting card. ID is assigned once at mint time and never
// reused within its collection; Owner changes only through a transfer.
type Card struct {
	Collection  string         `gorm:"column:collection;primaryKey"`
	ID          uint64         `gorm:"column:id;primaryKey;autoIncrement:false"`
	Owner       common.Address `gorm:"column:owner;type:binary(20);index"`
	MetadataRef string         `gorm:"column:metadata_ref;type:text"`
	MintedAt    time.Time      `gorm:"column:minted_at;type:datetime(3)"`
}

func (Card) TableName() string {
	return "greeting_cards"
}

func (c *Card) Copy() *Card {
	cp := *c
	return &cp
}
