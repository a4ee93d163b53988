// Package dimp provides the building blocks of the DIMP decentralized instant
// messaging protocol.
//
// Identities are self-certifying: an ID's address is derived from its Meta, so
// anyone holding the Meta can check that a public key belongs to the ID. Messages
// travel as Instant (plain content), Secure (encrypted) and Reliable (signed)
// messages; the pipeline package moves them between states and the keycache
// package keeps one symmetric key per conversation.
//
// Messenger ties the pipeline to a QUIC session whose HELLO exchange proves
// both identities.
package dimp
