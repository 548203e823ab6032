package handlers

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"greeting-cards/ledger"
	"greeting-cards/logger"
	"greeting-cards/model"
)

type Summary struct {
	Applied  int
	Rejected int
	Minted   int
	// total paid out by withdraw requests
	Withdrawn *model.DDecimal
}

// ProcessRequests applies requests to l in order. A request the ledger rejects
// with a caller error is logged, recorded and skipped. Any other failure stops
// the run.
func ProcessRequests(l *ledger.Ledger, rec *Recorder, reqs []*model.Request) (*Summary, error) {
	log := logger.GetLogger()
	summary := &Summary{Withdrawn: model.NewDecimal()}

	for _, req := range reqs {
		minted, amount, err := apply(l, req)
		if err == nil {
			summary.Applied++
			summary.Minted += minted
			summary.Withdrawn = summary.Withdrawn.Add(amount)
			continue
		}

		if !isCallerError(err) {
			return summary, fmt.Errorf("line %d: %s: %w", req.Line, req.Op, err)
		}

		log.WithFields(logrus.Fields{
			"line":   req.Line,
			"op":     req.Op,
			"caller": req.Caller.Hex(),
			"status": ledger.StatusOf(err).String(),
		}).Warnf("request rejected, %s", err)
		summary.Rejected++
		if rec != nil {
			rec.RecordRejected(req, err)
		}
	}

	return summary, nil
}

func apply(l *ledger.Ledger, req *model.Request) (int, *model.DDecimal, error) {
	switch req.Op {
	case model.OpMint:
		if len(req.MetadataRefs) != 1 {
			return 0, nil, fmt.Errorf("mint takes exactly one metadata reference, got %d", len(req.MetadataRefs))
		}
		_, err := l.Mint(req.MetadataRefs[0], req.Recipient, req.Payment)
		if err != nil {
			return 0, nil, err
		}
		return 1, nil, nil

	case model.OpBatch:
		cards, err := l.BatchMint(req.MetadataRefs, req.Recipient, req.Payment)
		if err != nil {
			return 0, nil, err
		}
		return len(cards), nil, nil

	case model.OpWithdraw:
		amount, err := l.Withdraw(req.Caller)
		if err != nil {
			return 0, nil, err
		}
		return 0, amount, nil

	case model.OpTransfer:
		return 0, nil, l.Transfer(req.Caller, req.Recipient, req.TokenID)
	}
	return 0, nil, fmt.Errorf("unknown operation %q", req.Op)
}

func isCallerError(err error) bool {
	var lerr *ledger.Error
	if !errors.As(err, &lerr) {
		return false
	}
	switch lerr.Code {
	case ledger.ErrInvalidConfig, ledger.ErrPayoutFailed:
		return false
	}
	return true
}
