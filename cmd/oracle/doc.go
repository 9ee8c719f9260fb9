// Command oracle runs the attested entropy service of a randomness function.
//
// The enclave signer is derived from a master seed, given directly with
// --master-key or reconstructed from administrator shares:
//
//	oracle split-key --admin <id1> --admin <id2> --admin <id3> --threshold 2
//	oracle run --function <fn> --admin <id1> --admin <id2> --admin <id3> --threshold 2
//	oracle submit-share --admin-key admin1.pem --share-file share-<id1>.hex
//
// run registers the signer with the function when it is not registered yet,
// then polls the function queue and seeds each request once.
package main
