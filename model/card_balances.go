package model

import "time"

type CardBalance struct {
	Collection    string    `gorm:"column:collection;primaryKey"`
	WalletAddress string    `gorm:"column:wallet_address;primaryKey"`
	TotalSupply   uint64    `gorm:"column:total_supply"`
	Amount        uint64    `gorm:"column:amount"`
	UpdatedAt     time.Time `gorm:"column:updated_timestamp;type:datetime(3)"`
}

func (CardBalance) TableName() string {
	return "card_balances"
}
