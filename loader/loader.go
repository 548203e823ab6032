package loader

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"greeting-cards/connector/tidb"
	"greeting-cards/ledger"
	"greeting-cards/logger"
	"greeting-cards/model"
	"greeting-cards/utils"
)

type Holder struct {
	Address common.Address
	Amount  uint64
}

// LoadRequests reads a request file, one operation per line:
//
//	mint,<caller>,<recipient>,<payment>,<metadataRef>
//	batch,<caller>,<recipient>,<payment>,<ref1>|<ref2>|...
//	withdraw,<caller>
//	transfer,<caller>,<to>,<id>
//
// Payments are integer subunits. Blank lines and lines starting with # are
// skipped.
func LoadRequests(fname string) ([]*model.Request, error) {
	file, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var reqs []*model.Request
	scanner := bufio.NewScanner(file)
	max := 4 * 1024 * 1024
	buf := make([]byte, max)
	scanner.Buffer(buf, max)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		req, err := ParseRequest(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		req.Line = lineNo
		reqs = append(reqs, req)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return reqs, nil
}

func ParseRequest(line string) (*model.Request, error) {
	op, rest, _ := strings.Cut(line, ",")
	req := &model.Request{Op: strings.TrimSpace(op)}

	var fields []string
	switch req.Op {
	case model.OpMint, model.OpBatch:
		// the metadata field may itself contain commas
		fields = strings.SplitN(rest, ",", 4)
		if len(fields) != 4 {
			return nil, fmt.Errorf("invalid data format, %s wants 5 fields, got %d", req.Op, len(fields)+1)
		}
	case model.OpWithdraw:
		fields = strings.Split(rest, ",")
		if len(fields) != 1 {
			return nil, fmt.Errorf("invalid data format, withdraw wants 2 fields, got %d", len(fields)+1)
		}
	case model.OpTransfer:
		fields = strings.Split(rest, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("invalid data format, transfer wants 4 fields, got %d", len(fields)+1)
		}
	default:
		return nil, fmt.Errorf("unknown operation %q", req.Op)
	}

	caller, err := parseAddress(fields[0])
	if err != nil {
		return nil, fmt.Errorf("caller: %w", err)
	}
	req.Caller = caller

	switch req.Op {
	case model.OpMint, model.OpBatch:
		req.Recipient, err = parseAddress(fields[1])
		if err != nil {
			return nil, fmt.Errorf("recipient: %w", err)
		}

		payment, precision, err := model.NewDecimalFromString(fields[2])
		if err != nil {
			return nil, fmt.Errorf("payment: %w", err)
		}
		if precision != 0 || payment.Sign() < 0 {
			return nil, fmt.Errorf("payment must be a non-negative integer amount of subunits, got %q", fields[2])
		}
		req.Payment = payment

		if req.Op == model.OpMint {
			req.MetadataRefs = []string{fields[3]}
		} else if fields[3] != "" {
			req.MetadataRefs = strings.Split(fields[3], "|")
		}

	case model.OpTransfer:
		req.Recipient, err = parseAddress(fields[1])
		if err != nil {
			return nil, fmt.Errorf("to: %w", err)
		}
		req.TokenID, err = strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("id: %w", err)
		}
	}

	return req, nil
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// DumpLedger writes a plain-text report of the ledger: a header line, then
// every holder ordered by the number of cards held.
func DumpLedger(fname string, snap *ledger.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(fname), 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(fname, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open dump file: %w", err)
	}
	defer file.Close()

	root, err := utils.MerkleRoot(snap.Cards)
	if err != nil {
		return err
	}
	holders := Holders(snap)

	fmt.Fprintf(file, "%s (%s) minted: %d/%d, holders: %d, treasury: %s, withdrawn: %s, root: %s\n",
		snap.Name,
		snap.Symbol,
		len(snap.Cards),
		ledger.MaxSupply,
		len(holders),
		model.FormatEther(snap.Treasury),
		model.FormatEther(snap.Withdrawn),
		hex.EncodeToString(root),
	)

	for _, holder := range holders {
		fmt.Fprintf(file, "%s %s  balance: %d\n",
			snap.Symbol,
			holder.Address.Hex(),
			holder.Amount,
		)
	}
	return nil
}

// Holders counts cards per owner, largest holding first and then by address.
func Holders(snap *ledger.Snapshot) []Holder {
	counts := map[common.Address]uint64{}
	for _, card := range snap.Cards {
		counts[card.Owner]++
	}

	var allHolders []Holder
	for address, amount := range counts {
		allHolders = append(allHolders, Holder{address, amount})
	}

	sort.SliceStable(allHolders, func(i, j int) bool {
		if allHolders[i].Amount != allHolders[j].Amount {
			return allHolders[i].Amount > allHolders[j].Amount
		}
		return allHolders[i].Address.Hex() < allHolders[j].Address.Hex()
	})
	return allHolders
}

func ConvertSnapshotToCollectionInfo(snap *ledger.Snapshot, now time.Time) (*model.CollectionInfo, error) {
	root, err := utils.MerkleRoot(snap.Cards)
	if err != nil {
		return nil, err
	}

	info := &model.CollectionInfo{
		Name:             snap.Name,
		Symbol:           snap.Symbol,
		Admin:            snap.Admin.Hex(),
		MaxSupply:        ledger.MaxSupply,
		MintPrice:        ledger.Price(),
		Minted:           uint64(len(snap.Cards)),
		Holders:          int32(len(Holders(snap))),
		Treasury:         snap.Treasury.Copy(),
		Withdrawn:        snap.Withdrawn.Copy(),
		StateRoot:        hex.EncodeToString(root),
		UpdatedTimeStamp: now,
	}
	if len(snap.Cards) == ledger.MaxSupply {
		completed := snap.Cards[len(snap.Cards)-1].MintedAt
		info.CompletedAt = &completed
	}
	return info, nil
}

func ConvertSnapshotToCardBalances(snap *ledger.Snapshot, now time.Time) []*model.CardBalance {
	var balances []*model.CardBalance
	for _, holder := range Holders(snap) {
		balances = append(balances, &model.CardBalance{
			Collection:    snap.Name,
			WalletAddress: holder.Address.Hex(),
			TotalSupply:   uint64(len(snap.Cards)),
			Amount:        holder.Amount,
			UpdatedAt:     now,
		})
	}
	return balances
}

func ConvertCollectionInfoToSnapshot(info *model.CollectionInfo, cards []*model.Card) (*ledger.Snapshot, error) {
	if !common.IsHexAddress(info.Admin) {
		return nil, fmt.Errorf("collection %s has invalid admin %q", info.Name, info.Admin)
	}
	if info.Minted != uint64(len(cards)) {
		return nil, fmt.Errorf("collection %s records %d minted cards, found %d", info.Name, info.Minted, len(cards))
	}

	for _, card := range cards {
		if card.Collection != info.Name {
			return nil, fmt.Errorf("card %d belongs to collection %q, not %s", card.ID, card.Collection, info.Name)
		}
	}

	if info.StateRoot != "" {
		root, err := utils.MerkleRoot(cards)
		if err != nil {
			return nil, err
		}
		if hex.EncodeToString(root) != info.StateRoot {
			return nil, fmt.Errorf("collection %s state root mismatch", info.Name)
		}
	}

	return &ledger.Snapshot{
		Name:      info.Name,
		Symbol:    info.Symbol,
		Admin:     common.HexToAddress(info.Admin),
		Treasury:  info.Treasury.Copy(),
		Withdrawn: info.Withdrawn.Copy(),
		Cards:     cards,
	}, nil
}

func LoadCollection(db *gorm.DB, name string) (*model.CollectionInfo, error) {
	tableName := model.CollectionInfo{}.TableName()
	exist, err := tidb.JudgeTableExistOrNot(db, tableName)
	if err != nil {
		return nil, err
	}
	if !exist {
		return nil, nil
	}

	var infos []*model.CollectionInfo
	err = db.Where("name = ?", name).Limit(1).Find(&infos).Error
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, nil
	}
	return infos[0], nil
}

// LoadCards reads the cards of one collection in id order.
func LoadCards(db *gorm.DB, collection string) ([]*model.Card, error) {
	var cards []*model.Card
	exist, err := tidb.JudgeTableExistOrNot(db, model.Card{}.TableName())
	if err != nil {
		return cards, err
	}
	if !exist {
		return cards, nil
	}

	err = db.Where("collection = ?", collection).Order("id").Find(&cards).Error
	return cards, err
}

// LoadSnapshot rebuilds the persisted state of the named collection, or
// returns nil if nothing was stored yet.
func LoadSnapshot(db *gorm.DB, name string) (*ledger.Snapshot, error) {
	info, err := LoadCollection(db, name)
	if err != nil {
		return nil, fmt.Errorf("load collection info: %w", err)
	}
	if info == nil {
		return nil, nil
	}

	cards, err := LoadCards(db, info.Name)
	if err != nil {
		return nil, fmt.Errorf("load cards: %w", err)
	}

	logger.GetLogger().Infof("Loaded collection %s, %d cards", info.Name, len(cards))
	return ConvertCollectionInfoToSnapshot(info, cards)
}
