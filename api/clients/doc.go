/*
Package clients provides HTTP clients for the ledger RPC API and the oracle
admin API.

LedgerClient implements api.LedgerProvider, and therefore the oracle's
Submitter and RequestSource, so an oracle can run against a remote ledger:

	ledgerClient := clients.NewLedgerClient("http://localhost:8080")
	runner := oracle.NewFunctionRunner(cfg, sampler, ledgerClient, log)
	worker := oracle.NewWorker(oracle.WorkerConfig{}, runner, ledgerClient, log)

Failed calls return the protocol error the ledger reported, restored by code,
so callers match them with errors.Is exactly as against a local ledger:

	_, err := ledgerClient.Submit(ctx, tx)
	if errors.Is(err, interfaces.ErrAlreadySeeded) {
	    // another oracle won
	}

AdminClient submits signed master seed shares to an oracle started with a
Shamir-split seed:

	adminClient := clients.NewAdminClient("http://localhost:8081", adminKey)
	err := adminClient.SubmitShare(ctx, share)
*/
package clients
