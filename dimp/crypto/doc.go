// Package crypto provides the key abstractions used by DIMP messages.
//
// Three kinds of keys exist:
//   - PrivateKey: signs and decrypts (owned by one identity)
//   - PublicKey: verifies and encrypts (published through a Meta)
//   - SymmetricKey: encrypts message bodies for one conversation
//
// Every key has an algorithm name and a serialized form. Two keys are the same key
// iff both match (see Equal). Concrete algorithms:
//   - ECC: Ed25519 signatures + X25519 sealed boxes, both derived from one 32-byte seed
//   - RSA: RSA-2048, PKCS#1 v1.5 / SHA-256 signatures and OAEP-SHA256 encryption
//   - ChaCha20-Poly1305 (XChaCha nonces), AES-256-GCM, PLAIN (broadcast only)
package crypto
