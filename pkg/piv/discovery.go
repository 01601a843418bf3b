package piv

import (
	"fmt"

	"github.com/ebfe/scard"
)

// Dialer opens a Card connection to a named reader. PCSCDialer is the
// concrete, ebfe/scard-backed implementation; tests supply an in-memory
// fake so discovery never needs a physical reader.
type Dialer interface {
	Dial(reader string) (Card, error)
}

// PCSCDialer dials readers through a caller-owned PC/SC context, per the
// "host smartcard API is consumed, not owned" contract in §6.
type PCSCDialer struct {
	Ctx *scard.Context
}

func (d *PCSCDialer) Dial(reader string) (Card, error) {
	return DialPCSC(d.Ctx, reader)
}

// EnumeratePCSC lists readers from ctx and probes each: connect, begin
// transaction, SELECT the PIV AID, read CHUID/DISCOVERY/CARDCAP/KEYHIST if
// present. A reader that fails to connect is skipped outright (hard PC/SC
// failure); any other probe failure is recorded on a still-returned token
// with capability flags cleared. Enumerate itself only fails if ctx cannot
// list readers at all.
func EnumeratePCSC(ctx *scard.Context, opts ...Option) ([]*Token, error) {
	readers, err := ListReaders(ctx)
	if err != nil {
		return nil, err
	}
	return Enumerate(&PCSCDialer{Ctx: ctx}, readers, opts...)
}

// Enumerate is the transport-agnostic form of EnumeratePCSC, parameterized
// over a Dialer so it can run against a fake Card in tests.
func Enumerate(d Dialer, readers []string, opts ...Option) ([]*Token, error) {
	var tokens []*Token
	for _, reader := range readers {
		card, err := d.Dial(reader)
		if err != nil {
			// Hard PC/SC failure: skip this reader, Enumerate itself still succeeds.
			continue
		}
		tok := newToken(reader, card, opts)
		if err := probe(tok); err != nil {
			tok.ProbeError = err
			tok.AuthMethods = 0
			tok.VCI = false
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// probe performs the short discovery probe described in §4.4: begin a
// transaction, select the applet, read CHUID, DISCOVERY, CARDCAP, and
// KEYHIST if present, then end the transaction.
func probe(t *Token) error {
	txn, err := t.Begin()
	if err != nil {
		return err
	}
	defer txn.End()

	if err := t.ensureSelected(); err != nil {
		return err
	}

	chuid, err := getData(t.card, t.logger(), tagCHUID)
	if err != nil {
		return err
	}
	if err := t.parseCHUID(chuid); err != nil {
		return err
	}

	if discov, err := getData(t.card, t.logger(), tagDiscov); err == nil {
		_ = t.parseDiscovery(discov)
	}
	if cardcap, err := getData(t.card, t.logger(), tagCardCap); err == nil {
		t.CardCap = cardcap
	}
	if keyhist, err := getData(t.card, t.logger(), tagKeyHist); err == nil {
		_ = t.parseKeyHistory(keyhist)
	}
	if ver, serial, ok := tryYubicoFingerprint(t.card, t.logger()); ok {
		t.YkHasYk = true
		t.YkVersion = ver
		if serial != 0 {
			t.YkSerial = serial
			t.YkHasSerial = true
		}
	}
	return nil
}

// FindPCSC is the PC/SC-backed convenience wrapper around Find.
func FindPCSC(ctx *scard.Context, guidPrefix []byte, opts ...Option) (*Token, error) {
	readers, err := ListReaders(ctx)
	if err != nil {
		return nil, err
	}
	return Find(&PCSCDialer{Ctx: ctx}, readers, guidPrefix, opts...)
}

// Find is a fast path (§4.4): it iterates readers, connects, selects the
// applet, reads only CHUID, and returns on matches whose GUID begins with
// guidPrefix. Zero matches is NotFound; more than one is Duplicate.
func Find(d Dialer, readers []string, guidPrefix []byte, opts ...Option) (*Token, error) {
	if len(guidPrefix) == 0 || len(guidPrefix) > 16 {
		return nil, newErr(KindArgument, "guid prefix must be 1..16 bytes")
	}

	var matches []*Token
	for _, reader := range readers {
		card, err := d.Dial(reader)
		if err != nil {
			continue
		}
		tok := newToken(reader, card, opts)

		txn, err := tok.Begin()
		if err != nil {
			continue
		}
		if err := tok.ensureSelected(); err != nil {
			txn.End()
			continue
		}
		chuid, err := getData(tok.card, tok.logger(), tagCHUID)
		txn.End()
		if err != nil {
			continue
		}
		if err := tok.parseCHUID(chuid); err != nil {
			continue
		}

		if tok.guidMatches(guidPrefix) {
			matches = append(matches, tok)
		}
	}

	switch len(matches) {
	case 0:
		return nil, newErr(KindNotFound, fmt.Sprintf("no token with GUID prefix %x", guidPrefix))
	case 1:
		return matches[0], nil
	default:
		return nil, newErr(KindDuplicate, fmt.Sprintf("%d tokens match GUID prefix %x", len(matches), guidPrefix))
	}
}
