// Package requester opens and reveals randomness draws.
//
// A draw is a record account created by a request. The requester keeps the
// record key in a draw file and, for the preimage strategy, the secret in a
// storage backend, sealed under a key derived from the payer key so backend
// readers cannot learn it before the reveal. Once an oracle has seeded the
// record, Reveal submits the proof and returns the record with its result.
//
//	r, err := requester.New(payerKey, clients.NewLedgerClient(rpcURL), secrets, log)
//	draw, _, err := r.Request(ctx, requester.RequestOptions{
//	    Function: function,
//	    Strategy: record.StrategySignature,
//	})
//	...
//	rec, err := r.Reveal(ctx, draw)
package requester
