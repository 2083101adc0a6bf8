package events

import (
	"context"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/sirupsen/logrus"
)

// LogSink writes each event as one structured log line.
type LogSink struct {
	Log logrus.FieldLogger
}

func (s LogSink) Publish(_ context.Context, batch []Event) error {
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	for _, e := range batch {
		fields := logrus.Fields{"event": e.Type, "chain": e.ChainID}
		if e.Digest != (types.Digest{}) {
			fields["digest"] = e.Digest.Hex()
		}
		if !e.Actor.IsZero() {
			fields["actor"] = e.Actor.Hex()
		}
		if !e.Account.IsZero() {
			fields["account"] = e.Account.Hex()
		}
		if e.Amount != nil {
			fields["amount"] = e.Amount.Dec()
		}
		if e.Fee != nil {
			fields["fee"] = e.Fee.Dec()
		}
		if e.Type == OrderFilled {
			fields["routeSucceeded"] = e.RouteSucceeded
		}
		if e.Detail != "" {
			fields["detail"] = e.Detail
		}
		log.WithFields(fields).Info("Ledger event")
	}
	return nil
}
