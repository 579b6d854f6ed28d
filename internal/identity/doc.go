// Package identity manages the local RSA key pair.
//
// Keys live in a directory as public.pem and private.pem. When a passphrase
// is configured the private key is sealed with scrypt and ChaCha20-Poly1305
// instead of being stored as plain PEM.
package identity
