package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/ledger"
	"github.com/ruteri/attested-randomness/metrics"
	"github.com/ruteri/attested-randomness/program"
	"github.com/ruteri/attested-randomness/record"
)

// DefaultArchiveQueue is the number of revealed records buffered for archival.
const DefaultArchiveQueue = 1024

// Outcome is the EventType document written for every archived record. It
// points at the record snapshot stored as RecordType.
type Outcome struct {
	Record    interfaces.Identity  `json:"record"`
	Result    hexutil.Bytes        `json:"result"`
	Slot      uint64               `json:"slot"`
	Timestamp int64                `json:"timestamp"`
	TxID      hexutil.Bytes        `json:"tx_id"`
	Snapshot  interfaces.ContentID `json:"snapshot"`
	Details   *record.Record       `json:"details"`
}

type revealed struct {
	event  program.RevealedEvent
	ledger ledger.Event
}

// Archiver copies every revealed record to a storage backend so outcomes can
// be audited without the ledger. Archival is asynchronous; when the queue is
// full, records are dropped and counted.
type Archiver struct {
	accounts ledger.AccountReader
	backend  interfaces.StorageBackend
	log      *slog.Logger
	queue    chan revealed
}

// NewArchiver creates an archiver reading committed records from accounts.
func NewArchiver(accounts ledger.AccountReader, backend interfaces.StorageBackend, queueSize int, log *slog.Logger) *Archiver {
	if queueSize <= 0 {
		queueSize = DefaultArchiveQueue
	}
	return &Archiver{
		accounts: accounts,
		backend:  backend,
		log:      log,
		queue:    make(chan revealed, queueSize),
	}
}

// HandleEvent is a ledger.EventHandler. It never blocks.
func (a *Archiver) HandleEvent(ev ledger.Event) {
	decoded, err := program.DecodeRevealedEvent(ev)
	if err != nil {
		return
	}

	select {
	case a.queue <- revealed{event: decoded, ledger: ev}:
	default:
		metrics.ArchivedRecordsTotal.WithLabelValues("dropped").Inc()
		a.log.Warn("archive queue full, dropping record", "record", decoded.Record)
	}
}

// Run archives queued records until ctx is done.
func (a *Archiver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-a.queue:
			outcome, err := a.Archive(ctx, item.event, item.ledger)
			if err != nil {
				metrics.ArchivedRecordsTotal.WithLabelValues("failed").Inc()
				a.log.Error("failed to archive record", "record", item.event.Record, "err", err)
				continue
			}
			metrics.ArchivedRecordsTotal.WithLabelValues("stored").Inc()
			a.log.Debug("archived record", "record", item.event.Record, "snapshot", outcome.Snapshot)
		}
	}
}

// Archive stores the record snapshot and the outcome document for one reveal.
func (a *Archiver) Archive(ctx context.Context, ev program.RevealedEvent, source ledger.Event) (*Outcome, error) {
	account, err := a.accounts.Account(ev.Record)
	if err != nil {
		return nil, fmt.Errorf("loading record %s: %w", ev.Record, err)
	}

	rec, err := record.Decode(account.Data)
	if err != nil {
		return nil, err
	}
	if rec.State != record.StateRevealed || rec.Result != ev.Result {
		return nil, errors.New("record does not match reveal event")
	}

	snapshot, err := a.backend.Store(ctx, account.Data, interfaces.RecordType)
	if err != nil {
		return nil, fmt.Errorf("storing snapshot: %w", err)
	}

	outcome := &Outcome{
		Record:    ev.Record,
		Result:    ev.Result[:],
		Slot:      source.Slot,
		Timestamp: source.Timestamp,
		TxID:      source.TxID,
		Snapshot:  snapshot,
		Details:   rec,
	}
	doc, err := json.Marshal(outcome)
	if err != nil {
		return nil, err
	}
	if _, err := a.backend.Store(ctx, doc, interfaces.EventType); err != nil {
		return nil, fmt.Errorf("storing outcome: %w", err)
	}
	return outcome, nil
}
