// Command ledgerd runs the single-process ledger hosting the function queue
// and the randomness program, advances its slots from an anchor source and
// serves the ledger API. Revealed records are archived to the --storage
// backends when any are given.
package main
