// Package constants defines cross-cutting default values shared across the
// core, per §4.5's message-number conventions and §18-equivalent wire
// defaults.
package constants

import "time"

// Reserved sequence numbers for the two message kinds with fixed cursor
// values, per §4.5 step 2.
const (
	AnnouncementMessageNum uint64 = 0
	SubscriptionMessageNum uint64 = 0

	// InitMessageNum is the cursor an author seeds for itself after
	// publishing its announcement, decoupled from the announcement's own
	// header sequence (AnnouncementMessageNum, 0).
	InitMessageNum uint64 = 1
)

// Protocol defaults.
const (
	ProtocolVersion = 1

	// Hash algorithm backing Spongos and content addressing.
	HashAlgorithm = "blake3"

	DefaultQUICPort = 7692
	DefaultTCPPort  = 7692
)

// Cryptographic sizes.
const (
	UnsubscribeKeySize  = 32
	KeyloadKeySize      = 32
	X25519PublicKeySize = 32
	Ed25519SignatureSize = 64
)

// Timing defaults for transport dial/send operations; the core itself has
// no internal timeouts (§5), these only bound the reference transports.
const (
	DefaultDialTimeout = 30 * time.Second
	DefaultIdleTimeout = 5 * time.Minute
)
