// Package keys implements the public key cryptography used throughout pohb.
//
// Every node owns a cryptographic key-pair that it uses to sign the events and
// votes it produces. The private key is secret but the public key is carried
// in events and votes so that other nodes can verify the signatures.
//
// pohb uses elliptic curve cryptography (ECDSA) with the secp256k1 curve.
package keys
