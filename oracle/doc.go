// Package oracle is the attested entropy service. It runs inside an enclave
// whose signing key is registered for an attested function, watches the
// function's request queue and answers every runnable request with one seed
// instruction addressed by the request's routing parameters.
package oracle
