/*
Package httpserver serves the ledger RPC API and the oracle admin API.

# Ledger API

Server routes /api/v1 to a Handler over any Ledger (an in-process
*ledger.Ledger in ledgerd) and exposes /livez, /readyz, /drain and /undrain
for load balancers, with optional pprof under /debug. Metrics are served on
their own address.

	srv, err := httpserver.New(cfg, httpserver.NewHandler(l, logger))
	if err != nil {
	    return err
	}
	srv.RunInBackground()
	defer srv.Shutdown()

Errors are written as api.ErrorResponse. Protocol errors keep their name and
code so clients can restore them; the status follows the error kind.

# Admin API

AdminHandler accepts signed master seed shares for a kms.ShamirKMS. An
oracle started without its master seed serves AdminRouter and blocks in
WaitForUnlock until enough administrators have submitted their shares.
*/
package httpserver
