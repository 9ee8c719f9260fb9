// Package cryptoutils provides the attestation and key handling used by the
// oracle enclave and the attested-function registry.
//
// # Attestation
//
// An enclave proves which code it runs by producing a quote whose report data
// is EnclaveReportData(function, signer): the function account followed by
// the enclave's ed25519 signing key. QuoteVerifier checks the quote and
// returns the Measurement, which the registry compares against the function's
// expected measurement before accepting the signer.
//
// Providers:
//
//   - DCAPAttestationProvider: TDX quotes from configfs-tsm or /dev/tdx_guest
//   - RemoteAttestationProvider: TDX quotes fetched from a quote service
//   - DummyAttestationProvider: unsigned quotes for development, rejected
//     unless QuoteVerifier.AllowDummy is set
//
// # Keys
//
// Keys are ed25519 and stored as PKCS8 PEM.
package cryptoutils
