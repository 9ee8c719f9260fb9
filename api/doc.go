/*
Package api defines the wire types of the ledger RPC API and the oracle
admin API.

The ledger API is served by httpserver and consumed by api/clients:

  - POST /api/v1/transactions - Submit a signed transaction, returns a receipt
  - GET /api/v1/accounts/{key} - Raw account
  - GET /api/v1/records/{key} - Decoded randomness record
  - GET /api/v1/functions/{key} - Decoded attested function
  - GET /api/v1/functions/{key}/requests - Requests the function's oracle may answer now
  - GET /api/v1/slot - Current slot and slot hash

Failures are returned as ErrorResponse with the status derived from the
error kind: validation 400, state 409, authorization 403, integrity 422.

The admin API lets operators unlock an oracle's Shamir-split master seed:

  - GET /status - locked or unlocked
  - POST /share - Submit a signed share
*/
package api
