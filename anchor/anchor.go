// Package anchor feeds entropy anchors into the ledger. Each slot the ledger
// advances records one anchor as its slot hash; preimage reveals bind the
// newest slot hash at seed time into the outcome.
package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrNoHeader is returned when the upstream chain returns no header.
var ErrNoHeader = errors.New("no header returned")

// Source produces 32-byte anchors.
type Source interface {
	Next(ctx context.Context) ([32]byte, error)
}

// LocalSource is a hash chain: each anchor is sha256(previous ‖ le(n)).
// It needs no external dependency and suits development networks.
type LocalSource struct {
	mu    sync.Mutex
	state [32]byte
	n     uint64
}

// NewLocalSource starts a hash chain at seed.
func NewLocalSource(seed [32]byte) *LocalSource {
	return &LocalSource{state: seed}
}

func (s *LocalSource) Next(_ context.Context) ([32]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.n++
	buf := binary.LittleEndian.AppendUint64(s.state[:], s.n)
	s.state = sha256.Sum256(buf)
	return s.state, nil
}

// HeaderReader is the subset of ethclient.Client used by EthereumSource.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// EthereumSource anchors slots to the latest block hash of an EVM chain.
type EthereumSource struct {
	client HeaderReader
}

// NewEthereumSource wraps an existing header reader.
func NewEthereumSource(client HeaderReader) *EthereumSource {
	return &EthereumSource{client: client}
}

// DialEthereumSource connects to an Ethereum JSON-RPC endpoint.
func DialEthereumSource(ctx context.Context, url string) (*EthereumSource, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("ethclient DialContext %s: %w", url, err)
	}
	return NewEthereumSource(client), nil
}

func (s *EthereumSource) Next(ctx context.Context) ([32]byte, error) {
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return [32]byte{}, fmt.Errorf("fetching latest header: %w", err)
	}
	if header == nil {
		return [32]byte{}, ErrNoHeader
	}
	return header.Hash(), nil
}

// SlotAdvancer is implemented by *ledger.Ledger.
type SlotAdvancer interface {
	AdvanceSlot(hash [32]byte) uint64
}

// Driver advances ledger slots at a fixed interval, one anchor per slot.
// A failed anchor fetch skips the tick.
type Driver struct {
	ledger   SlotAdvancer
	source   Source
	interval time.Duration
	log      *slog.Logger
}

func NewDriver(ledger SlotAdvancer, source Source, interval time.Duration, log *slog.Logger) *Driver {
	return &Driver{ledger: ledger, source: source, interval: interval, log: log}
}

// Tick advances one slot.
func (d *Driver) Tick(ctx context.Context) (uint64, error) {
	hash, err := d.source.Next(ctx)
	if err != nil {
		return 0, err
	}
	return d.ledger.AdvanceSlot(hash), nil
}

// Run ticks until ctx is done.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.Tick(ctx); err != nil {
				d.log.Warn("failed to fetch anchor, slot not advanced", "err", err)
			}
		}
	}
}
