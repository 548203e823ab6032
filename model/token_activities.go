package model

import "time"

const (
	ActivityMint      = "mint"
	ActivityBatchMint = "batch_mint"
	ActivityTransfer  = "transfer"
	ActivityWithdraw  = "withdraw"
)

// TokenActivity is one line of the audit trail. Rejected requests are kept as
// well, with Valid = 0 and the rejection reason.
type TokenActivity struct {
	Seq         uint64    `gorm:"column:seq;primaryKey;autoIncrement:false"`
	Timestamp   time.Time `gorm:"column:block_timestamp;type:datetime(3)"`
	Type        string    `gorm:"column:type"`
	ID          uint64    `gorm:"column:id"`
	Amt         *DDecimal `gorm:"column:amt;type:decimal(38,0)"`
	FromAddress string    `gorm:"column:from_address"`
	ToAddress   string    `gorm:"column:to_address"`
	Valid       int8      `gorm:"column:valid"`
	Reason      string    `gorm:"column:reason"`
}

func (TokenActivity) TableName() string {
	return "token_activities"
}
