// Package storage provides content-addressed storage for randomness
// outcomes and requester secrets.
//
// Content is identified by its SHA-256 hash and kept in one namespace per
// content type:
//
//   - records: encoded record snapshots of revealed draws
//   - secrets: requester commitment preimages, sealed by the requester
//   - events: JSON outcome documents pointing at record snapshots
//
// # Storage URI Format
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/randomness/
//   - s3://bucket-name/prefix/?region=us-west-2
//   - ipfs://ipfs.example.com:5001/attested-randomness?timeout=30s
//   - vault://token@vault.example.com:8200/secret/randomness
//
// MultiStorageBackend writes to every available backend and reads from the
// first one holding the content.
//
// # Archival
//
// Archiver subscribes to ledger events and stores a snapshot of every
// revealed record, so outcomes remain auditable independently of the
// ledger's account store.
package storage
