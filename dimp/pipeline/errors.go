package pipeline

import (
	"errors"
	"fmt"

	"github.com/TheusHen/dimp/dimp/identity"
)

// Error categories. Every pipeline error matches exactly one of them with
// errors.Is.
var (
	// ErrIdentity means a meta does not bind to the ID it claims. Not
	// recoverable by retrying.
	ErrIdentity = errors.New("identity error")
	// ErrKey means key material is missing. Recoverable by fetching metas or
	// asking the peer to resend its key.
	ErrKey = errors.New("key error")
	// ErrCrypto means a primitive failed. Terminal for the message.
	ErrCrypto = errors.New("crypto error")
	// ErrCodec means the content could not be serialized or parsed.
	ErrCodec = errors.New("codec error")
)

type sentinel struct {
	msg      string
	category error
}

func (s *sentinel) Error() string { return s.msg }
func (s *sentinel) Unwrap() error { return s.category }

var (
	ErrIdentityMismatch = &sentinel{"pipeline: meta does not match identity", ErrIdentity}

	ErrNoRecipientKey = &sentinel{"pipeline: no public key for recipient", ErrKey}
	ErrKeyNotFound    = &sentinel{"pipeline: no symmetric key for conversation", ErrKey}
	ErrNoSenderMeta   = &sentinel{"pipeline: sender meta unknown", ErrKey}

	ErrSigning          = &sentinel{"pipeline: signing failed", ErrCrypto}
	ErrInvalidSignature = &sentinel{"pipeline: invalid signature", ErrCrypto}
	ErrEncryption       = &sentinel{"pipeline: encryption failed", ErrCrypto}
	ErrDecryption       = &sentinel{"pipeline: decryption failed", ErrCrypto}

	ErrMalformedContent = &sentinel{"pipeline: malformed content", ErrCodec}
	// ErrUntrimmed is a group message handed to Decrypt before Trim picked
	// the member's copy.
	ErrUntrimmed = &sentinel{"pipeline: group message not trimmed for a member", ErrCodec}
)

// Stage names a pipeline transition.
type Stage string

const (
	StageEncrypt Stage = "encrypt"
	StageSign    Stage = "sign"
	StageVerify  Stage = "verify"
	StageDecrypt Stage = "decrypt"
)

// Error is returned by every pipeline operation. It matches both its sentinel
// and the sentinel's category, plus the underlying cause when there is one.
type Error struct {
	Stage Stage
	// ID is the identity the failure concerns (receiver, member or sender).
	ID    identity.ID
	Err   error
	Cause error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Stage, e.ID, e.Err)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Category returns the category sentinel err belongs to, or nil.
func Category(err error) error {
	for _, c := range []error{ErrIdentity, ErrKey, ErrCrypto, ErrCodec} {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}
