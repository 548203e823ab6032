package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"greeting-cards/connector/tidb"
	"greeting-cards/events"
	"greeting-cards/handlers"
	"greeting-cards/ledger"
	"greeting-cards/loader"
	"greeting-cards/logger"
	"greeting-cards/model"
	"greeting-cards/utils"
)

var flags struct {
	Name     string
	Symbol   string
	Admin    string
	Deployer string
	Contract string
	DBConfig string
	LogFile  string
	Requests string
	Output   string
	ID       uint64
}

var cmdMain = &cobra.Command{
	Use:   "greeting-cards",
	Short: "Issue greeting cards against payment and keep the ledger",
}

var cmdReplay = &cobra.Command{
	Use:   "replay",
	Short: "Apply a request file to the ledger and persist the result",
	Args:  cobra.NoArgs,
	Run:   replay,
}

var cmdProof = &cobra.Command{
	Use:   "proof",
	Short: "Print the merkle proof that a card belongs to the ledger",
	Args:  cobra.NoArgs,
	Run:   proof,
}

func init() {
	cmdMain.PersistentFlags().StringVar(&flags.Name, "name", "Evrlink Greeting Cards", "collection name")
	cmdMain.PersistentFlags().StringVar(&flags.Symbol, "symbol", "EVRLINK", "collection symbol")
	cmdMain.PersistentFlags().StringVar(&flags.Admin, "admin", "", "admin address, defaults to the deployer")
	cmdMain.PersistentFlags().StringVar(&flags.Deployer, "deployer", "", "address constructing the ledger")
	cmdMain.PersistentFlags().StringVar(&flags.Contract, "contract", "", "address written into event logs, defaults to the deployer's first contract address")
	cmdMain.PersistentFlags().StringVar(&flags.DBConfig, "db-config", "", "database config file; tidb_* environment variables override it")
	cmdMain.PersistentFlags().StringVar(&flags.LogFile, "log-file", "", "also write logs to this file")
	cmdMain.PersistentFlags().StringVar(&flags.Requests, "requests", "", "request file to apply")

	cmdReplay.Flags().StringVar(&flags.Output, "output", "./data/cards.output.txt", "report file")
	cmdProof.Flags().Uint64Var(&flags.ID, "id", 0, "card id")

	_ = cmdProof.MarkFlagRequired("id")
	cmdMain.AddCommand(cmdReplay, cmdProof)
}

func main() {
	_ = cmdMain.Execute()
}

func check(err error) {
	if err != nil {
		logger.GetLogger().Fatal(err)
	}
}

type session struct {
	ledger   *ledger.Ledger
	recorder *handlers.Recorder
	db       *gorm.DB
}

// open builds the ledger, restoring it from the database when one is
// configured, and applies the request file if one was given.
func open() *session {
	log := logger.GetLogger()
	if flags.LogFile != "" {
		check(logger.EnableFileOutput(flags.LogFile))
	}

	admin, err := optionalAddress("admin", flags.Admin)
	check(err)
	deployer, err := optionalAddress("deployer", flags.Deployer)
	check(err)
	contract, err := optionalAddress("contract", flags.Contract)
	check(err)
	if contract == (common.Address{}) {
		owner := deployer
		if owner == (common.Address{}) {
			owner = admin
		}
		contract = crypto.CreateAddress(owner, 0)
	}

	s := new(session)
	bus := events.NewBus(log.WithField("module", "events"))
	s.recorder = handlers.NewRecorder(bus, contract)
	cfg := ledger.Config{
		Name:     flags.Name,
		Symbol:   flags.Symbol,
		Admin:    admin,
		Deployer: deployer,
		Bus:      bus,
	}

	dbConfig, err := tidb.LoadConfig(flags.DBConfig)
	check(err)
	var snap *ledger.Snapshot
	if dbConfig.Configured() {
		s.db, err = tidb.GetDBInstance(dbConfig)
		check(err)

		snap, err = loader.LoadSnapshot(s.db, flags.Name)
		check(err)

		activitySeq, err := tidb.MaxSeq(s.db, model.TokenActivity{}.TableName())
		check(err)
		logSeq, err := tidb.MaxSeq(s.db, model.EvmLog{}.TableName())
		check(err)
		s.recorder.Resume(activitySeq, logSeq)
	}

	if snap != nil {
		s.ledger, err = ledger.Restore(cfg, snap)
	} else {
		s.ledger, err = ledger.New(cfg)
	}
	check(err)

	if flags.Requests == "" {
		return s
	}

	reqs, err := loader.LoadRequests(flags.Requests)
	if err != nil {
		log.Fatalf("invalid input, %s", err)
	}

	summary, err := handlers.ProcessRequests(s.ledger, s.recorder, reqs)
	if err != nil {
		log.Fatalf("process error, %s", err)
	}
	log.Infof("applied %d requests, rejected %d, minted %d cards, withdrew %s",
		summary.Applied, summary.Rejected, summary.Minted, model.FormatEther(summary.Withdrawn))
	return s
}

func replay(*cobra.Command, []string) {
	log := logger.GetLogger()
	s := open()
	snap := s.ledger.Snapshot()

	check(loader.DumpLedger(flags.Output, snap))

	if s.db == nil {
		log.Info("no database configured, skipping persistence")
		return
	}

	now := time.Now()
	info, err := loader.ConvertSnapshotToCollectionInfo(snap, now)
	check(err)
	err = tidb.ProcessUpsert(s.db, &tidb.Batch{
		Collection: info,
		Cards:      snap.Cards,
		Balances:   loader.ConvertSnapshotToCardBalances(snap, now),
		Activities: s.recorder.GetTokenActivities(),
		LogEvents:  s.recorder.GetLogEvents(),
	})
	check(err)
	log.Info("successed")
}

func proof(*cobra.Command, []string) {
	s := open()
	snap := s.ledger.Snapshot()

	root, err := utils.MerkleRoot(snap.Cards)
	check(err)
	card, err := s.ledger.Card(flags.ID)
	check(err)
	p, err := utils.CardProof(snap.Cards, flags.ID)
	check(err)
	ok, err := utils.VerifyCardProof(card, p, root)
	check(err)

	fmt.Fprintf(os.Stdout, "card:  %d owner %s %s\n", card.ID, card.Owner.Hex(), card.MetadataRef)
	fmt.Fprintf(os.Stdout, "root:  %s\n", hex.EncodeToString(root))
	for _, h := range p.Hashes {
		fmt.Fprintf(os.Stdout, "hash:  %s\n", hex.EncodeToString(h))
	}
	fmt.Fprintf(os.Stdout, "verified: %v\n", ok)
}

func optionalAddress(name, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", name, s)
	}
	return common.HexToAddress(s), nil
}
