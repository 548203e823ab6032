package model

import (
	"github.com/ethereum/go-ethereum/common"
)

const (
	OpMint     = "mint"
	OpBatch    = "batch"
	OpWithdraw = "withdraw"
	OpTransfer = "transfer"
)

// Request is one operation read from a request file.
type Request struct {
	Line         int
	Op           string
	Caller       common.Address
	Recipient    common.Address
	Payment      *DDecimal
	MetadataRefs []string
	TokenID      uint64
}
