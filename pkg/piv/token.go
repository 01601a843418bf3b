package piv

import (
	"bytes"
	"log/slog"
	"sync"
	"time"
)

// Token represents one card reachable through one reader (§3). Attributes
// are populated by discovery and mutated only while the caller holds this
// value; Close frees all slots and the underlying transport.
type Token struct {
	Reader string
	GUID   [16]byte
	FASCN  []byte
	Expiry *time.Time

	CHUID       []byte
	CHUIDSigned bool

	AuthMethods  AuthMethod
	DefaultAuth  AuthMethod
	AlgorithmIDs []byte
	VCI          bool

	KeyHistoryOnCard  int
	KeyHistoryOffCard int
	KeyHistoryURL     string

	CardCap []byte

	YkVersion   [3]byte
	YkHasYk     bool
	YkSerial    uint32
	YkHasSerial bool

	// ProbeError records a non-fatal failure encountered while populating
	// this descriptor during Enumerate; the token is still returned with
	// capability flags cleared, per §4.4.
	ProbeError error

	card Card
	log  *slog.Logger

	mu          sync.Mutex
	inTxn       bool
	txnDepth    int
	selected    bool
	pinVerified bool
	adminAuthed bool

	slots []*Slot
}

// Option configures a Token at discovery time.
type Option func(*Token)

// WithLogger injects a structured logger as an explicit capability passed
// at construction time, rather than a package-level debug flag.
func WithLogger(log *slog.Logger) Option {
	return func(t *Token) { t.log = log }
}

func newToken(reader string, card Card, opts []Option) *Token {
	t := &Token{Reader: reader, card: card}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Slots returns the token's current slot registry, ordered as populated.
// Ownership remains with the Token; callers get a read-only view (Design
// Note 9.3: a plain slice, not manual pointer-chain traversal).
func (t *Token) Slots() []*Slot {
	out := make([]*Slot, len(t.slots))
	copy(out, t.slots)
	return out
}

// Slot looks up a previously populated slot by id, returning (nil, false) if
// it hasn't been read or forced yet.
func (t *Token) Slot(id byte) (*Slot, bool) {
	for _, s := range t.slots {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// InTransaction reports whether a Transaction is currently open.
func (t *Token) InTransaction() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inTxn
}

// Close releases the underlying transport and clears the slot registry. It
// does not attempt to end an open transaction on the caller's behalf.
func (t *Token) Close() error {
	t.slots = nil
	if c, ok := t.card.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// guidMatches reports whether t's GUID begins with prefix.
func (t *Token) guidMatches(prefix []byte) bool {
	if len(prefix) > len(t.GUID) {
		return false
	}
	return bytes.Equal(t.GUID[:len(prefix)], prefix)
}
