package model

import (
	"time"
)

// CollectionInfo is the persisted header of a ledger: its identity, the supply
// counter and the treasury at the time of the snapshot.
type CollectionInfo struct {
	Name             string    `gorm:"column:name;primaryKey"`
	Symbol           string    `gorm:"column:symbol"`
	Admin            string    `gorm:"column:admin"`
	MaxSupply        uint64    `gorm:"column:max_supply"`
	MintPrice        *DDecimal `gorm:"column:mint_price;type:decimal(38,0)"`
	Minted           uint64    `gorm:"column:minted"`
	Holders          int32     `gorm:"column:holders"`
	Treasury         *DDecimal `gorm:"column:treasury;type:decimal(38,0)"`
	Withdrawn        *DDecimal `gorm:"column:withdrawn;type:decimal(38,0)"`
	StateRoot        string    `gorm:"column:state_root"`
	UpdatedTimeStamp time.Time `gorm:"column:updated_timestamp"`
	// set once the supply cap is reached
	CompletedAt *time.Time `gorm:"column:completed_timestamp"`
}

func (CollectionInfo) TableName() string {
	return "collection_info"
}
