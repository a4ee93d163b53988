// Package identity binds decentralized identities to public keys.
//
// An ID is "name@address/terminal". The address is derived from a Meta record
// (public key, optional seed and its fingerprint) by a versioned algorithm, so
// anybody holding the Meta can recompute it offline. No authority is involved:
// an ID is trusted only after VerifyAddress confirms the Meta it claims.
package identity
