// Package program implements the randomness program: request, seed and
// reveal over a record account.
//
// A requester calls request, which creates the record and, in the same
// transaction, triggers an attested function with routing parameters naming
// this program and the record. The function's enclave answers with seed. The
// record is then revealed with either the committed secret (preimage) or a
// signature by the record key over the seed (signature), in which case the
// ed25519 verify instruction must immediately precede the reveal.
package program
