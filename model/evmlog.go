package model

// EvmLog is a ledger notification encoded the way an EVM contract log would
// be: Topic0 is the keccak256 of the event signature and indexed arguments
// follow as 32-byte topics.
type EvmLog struct {
	Seq       uint64 `gorm:"column:seq;primaryKey;autoIncrement:false"`
	Address   string `gorm:"column:address"`
	Event     string `gorm:"column:event"`
	Topic0    string `gorm:"column:topic0"`
	Topic1    string `gorm:"column:topic1"`
	Topic2    string `gorm:"column:topic2"`
	Topic3    string `gorm:"column:topic3"`
	Data      string `gorm:"column:data;type:text"`
	Timestamp uint64 `gorm:"column:timestamp"`
}

func (EvmLog) TableName() string {
	return "evm_logs"
}
