package piv

import (
	"fmt"

	"github.com/ebfe/scard"
)

// PCSCTransport wraps a PC/SC card connection so it satisfies Card and
// Resettable. It is the concrete realization of the "host smartcard API"
// external collaborator named in §6: the library never establishes its own
// context, it is handed one (ctx) by the caller and only opens per-reader
// connections and transactions underneath it.
//
// From pcsc.go's Connection, generalized from a single NFC tag connection to
// a PIV token that the caller may re-select across a host-level reset.
type PCSCTransport struct {
	ctx    *scard.Context
	reader string
	card   *scard.Card
}

// DialPCSC establishes a shared-mode connection to reader using ctx, which
// the caller owns and must release after every token derived from it is
// closed.
func DialPCSC(ctx *scard.Context, reader string) (*PCSCTransport, error) {
	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, wrapErr(KindIO, fmt.Sprintf("connect to %q failed", reader), err)
	}
	return &PCSCTransport{ctx: ctx, reader: reader, card: card}, nil
}

// Transmit implements Card.
func (t *PCSCTransport) Transmit(apdu []byte) ([]byte, error) {
	if t == nil || t.card == nil {
		return nil, newErr(KindIO, "transport not connected")
	}
	return t.card.Transmit(apdu)
}

// BeginTransaction acquires exclusive access to the reader for the session
// model in session.go.
func (t *PCSCTransport) BeginTransaction() error {
	if err := t.card.BeginTransaction(); err != nil {
		return wrapErr(KindIO, "begin transaction failed", err)
	}
	return nil
}

// EndTransaction releases exclusive access, leaving the card powered.
func (t *PCSCTransport) EndTransaction() error {
	if err := t.card.EndTransaction(scard.LeaveCard); err != nil {
		return wrapErr(KindIO, "end transaction failed", err)
	}
	return nil
}

// Reconnect implements Resettable: it reconnects to the same reader in place,
// used after a host-level "reset by peer" indication.
func (t *PCSCTransport) Reconnect() error {
	card, err := t.ctx.Connect(t.reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return wrapErr(KindIO, "reconnect failed", err)
	}
	if t.card != nil {
		_ = t.card.Disconnect(scard.LeaveCard)
	}
	t.card = card
	return nil
}

// Close disconnects the card, leaving the host context (owned by the caller)
// untouched.
func (t *PCSCTransport) Close() error {
	if t == nil || t.card == nil {
		return nil
	}
	err := t.card.Disconnect(scard.ResetCard)
	t.card = nil
	return err
}

// ListReaders enumerates reader names from an already-established context.
func ListReaders(ctx *scard.Context) ([]string, error) {
	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, wrapErr(KindIO, "list readers failed", err)
	}
	return readers, nil
}
