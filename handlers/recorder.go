package handlers

import (
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"greeting-cards/events"
	"greeting-cards/model"
	"greeting-cards/utils"
)

var eventSignatures = map[string]string{
	events.Minted{}.EventName():      "GreetingCardMinted(uint256,address,string)",
	events.BatchMinted{}.EventName(): "BatchMinted(uint256[],address)",
	events.Withdrawn{}.EventName():   "Withdrawn(address,uint256)",
	events.Transferred{}.EventName(): "Transfer(address,address,uint256)",
}

// Topic0 returns the log topic identifying the named event.
func Topic0(eventName string) string {
	return utils.Keccak256(eventSignatures[eventName])
}

// Recorder turns ledger notifications into activity and log rows ready to be
// persisted.
type Recorder struct {
	mu          sync.Mutex
	activitySeq uint64
	logSeq      uint64
	contract    common.Address
	clock       func() time.Time
	activities  []*model.TokenActivity
	logEvents   []*model.EvmLog
}

// Resume continues numbering after rows already persisted by earlier runs.
func (r *Recorder) Resume(activitySeq, logSeq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activitySeq = activitySeq
	r.logSeq = logSeq
}

// NewRecorder subscribes a recorder to bus. contract is the address written
// into every log row.
func NewRecorder(bus *events.Bus, contract common.Address) *Recorder {
	r := &Recorder{contract: contract, clock: time.Now}
	events.SubscribeSync(bus, r.onMinted)
	events.SubscribeSync(bus, r.onBatchMinted)
	events.SubscribeSync(bus, r.onWithdrawn)
	events.SubscribeSync(bus, r.onTransferred)
	return r
}

func (r *Recorder) onMinted(e events.Minted) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addActivity(&model.TokenActivity{
		Type:      model.ActivityMint,
		ID:        e.ID,
		ToAddress: e.Recipient.Hex(),
		Valid:     1,
	})
	r.addLog(e, idTopic(e.ID), addressTopic(e.Recipient), "", e.MetadataRef)
}

func (r *Recorder) onBatchMinted(e events.BatchMinted) {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = strconv.FormatUint(id, 10)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLog(e, addressTopic(e.Recipient), "", "", strings.Join(ids, ","))
}

func (r *Recorder) onWithdrawn(e events.Withdrawn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addActivity(&model.TokenActivity{
		Type:      model.ActivityWithdraw,
		Amt:       e.Amount.Copy(),
		ToAddress: e.To.Hex(),
		Valid:     1,
	})
	r.addLog(e, addressTopic(e.To), "", "", e.Amount.String())
}

func (r *Recorder) onTransferred(e events.Transferred) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addActivity(&model.TokenActivity{
		Type:        model.ActivityTransfer,
		ID:          e.ID,
		FromAddress: e.From.Hex(),
		ToAddress:   e.To.Hex(),
		Valid:       1,
	})
	r.addLog(e, addressTopic(e.From), addressTopic(e.To), idTopic(e.ID), "")
}

// RecordRejected keeps a rejected request in the activity trail.
func (r *Recorder) RecordRejected(req *model.Request, reason error) {
	activity := &model.TokenActivity{
		Type:        activityType(req.Op),
		ID:          req.TokenID,
		Amt:         req.Payment.Copy(),
		FromAddress: req.Caller.Hex(),
		ToAddress:   req.Recipient.Hex(),
		Valid:       0,
		Reason:      reason.Error(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.addActivity(activity)
}

func (r *Recorder) GetTokenActivities() []*model.TokenActivity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.TokenActivity(nil), r.activities...)
}

func (r *Recorder) GetLogEvents() []*model.EvmLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.EvmLog(nil), r.logEvents...)
}

func (r *Recorder) addActivity(a *model.TokenActivity) {
	r.activitySeq++
	a.Seq = r.activitySeq
	a.Timestamp = r.clock()
	r.activities = append(r.activities, a)
}

func (r *Recorder) addLog(e events.Event, topic1, topic2, topic3, data string) {
	r.logSeq++
	r.logEvents = append(r.logEvents, &model.EvmLog{
		Seq:       r.logSeq,
		Address:   r.contract.Hex(),
		Event:     e.EventName(),
		Topic0:    Topic0(e.EventName()),
		Topic1:    topic1,
		Topic2:    topic2,
		Topic3:    topic3,
		Data:      data,
		Timestamp: uint64(r.clock().Unix()),
	})
}

func idTopic(id uint64) string {
	return common.BigToHash(new(big.Int).SetUint64(id)).Hex()
}

func addressTopic(addr common.Address) string {
	return common.BytesToHash(addr.Bytes()).Hex()
}

func activityType(op string) string {
	switch op {
	case model.OpMint:
		return model.ActivityMint
	case model.OpBatch:
		return model.ActivityBatchMint
	case model.OpWithdraw:
		return model.ActivityWithdraw
	case model.OpTransfer:
		return model.ActivityTransfer
	}
	return op
}
