package piv

import (
	"log/slog"
)

// tryYubicoFingerprint issues GET VERSION and, if that succeeds, GET SERIAL.
// Both are YubicoPIV extensions absent from plain PIV applets, so a failure
// on GET VERSION simply means "not a YubiKey" rather than a probe error.
func tryYubicoFingerprint(card Card, log *slog.Logger) (ver [3]byte, serial uint32, ok bool) {
	a := &APDU{Class: 0x00, Ins: insYkGetVersion, P1: 0x00, P2: 0x00, WantReply: true, Le: 0x00}
	reply, _, err := Exchange(card, log, a)
	if err != nil || len(reply) < 3 {
		return ver, 0, false
	}
	copy(ver[:], reply[:3])

	a2 := &APDU{Class: 0x00, Ins: insYkGetSerial, P1: 0x00, P2: 0x00, WantReply: true, Le: 0x00}
	reply2, _, err := Exchange(card, log, a2)
	if err == nil && len(reply2) == 4 {
		serial = uint32(reply2[0])<<24 | uint32(reply2[1])<<16 | uint32(reply2[2])<<8 | uint32(reply2[3])
	}
	return ver, serial, true
}

// YkImport uploads a raw private key into slot via the YubicoPIV IMPORT
// ASYMMETRIC KEY extension (§4.6). components holds the tagged key material
// (e.g. for RSA: tags 0x01/0x02/0x03/0x04/0x05 for p/q/dp/dq/qinv in that
// order; for EC: tag 0x06 for the private scalar), already TLV-encoded by
// the caller to keep this layer algorithm-agnostic.
func (t *Token) YkImport(slot byte, alg byte, pinPolicy, touchPolicy byte, components []byte) error {
	if err := t.requireTransaction(); err != nil {
		return err
	}
	if !t.adminAuthed {
		return newErr(KindPermission, "IMPORT ASYMMETRIC KEY requires admin authentication")
	}
	if err := t.ensureSelected(); err != nil {
		return err
	}

	data := components
	if pinPolicy != 0 || touchPolicy != 0 {
		extra := NewBuffer()
		extra.WriteTLV(0xAA, []byte{pinPolicy})
		extra.WriteTLV(0xAB, []byte{touchPolicy})
		data = append(append([]byte{}, components...), extra.Bytes()...)
	}

	a := &APDU{Class: 0x00, Ins: insYkImportAsym, P1: alg, P2: slot, Data: data, WantReply: true, Le: 0x00}
	_, _, err := Exchange(t.card, t.logger(), a)
	return err
}

// YkAttest issues the YubicoPIV ATTEST extension, returning the raw
// attestation certificate DER the card produces for slot's key.
func (t *Token) YkAttest(slot byte) ([]byte, error) {
	if err := t.requireTransaction(); err != nil {
		return nil, err
	}
	if err := t.ensureSelected(); err != nil {
		return nil, err
	}
	a := &APDU{Class: 0x00, Ins: insYkAttest, P1: slot, P2: 0x00, WantReply: true, Le: 0x00}
	reply, _, err := Exchange(t.card, t.logger(), a)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// YkReset issues the YubicoPIV RESET extension, which restores factory PIN,
// PUK, and management key. Per §4.6/§9, this is only permitted once both
// the PIN and PUK retry counters have been exhausted (blocked). If the
// caller reports either counter as not blocked, YkReset returns
// ResetConditions without sending the command; if the card refuses it with
// 0x6985, YkReset also returns ResetConditions.
func (t *Token) YkReset(pinBlocked, pukBlocked bool) error {
	if !pinBlocked || !pukBlocked {
		return newErr(KindResetConditions, "RESET requires both PIN and PUK to be blocked")
	}
	if err := t.requireTransaction(); err != nil {
		return err
	}
	if err := t.ensureSelected(); err != nil {
		return err
	}
	a := &APDU{Class: 0x00, Ins: insYkReset, P1: 0x00, P2: 0x00, WantReply: true, Le: 0x00}
	_, sw, err := Exchange(t.card, t.logger(), a)
	if err != nil {
		if sw == 0x6985 {
			return swErr(KindResetConditions, "card refused RESET: PIN and PUK not both blocked", sw)
		}
		return err
	}
	t.invalidateSelection()
	return nil
}

// YkSetPINRetries issues the YubicoPIV SET PIN RETRIES extension, which
// also resets the PIN and PUK to their factory defaults as a side effect of
// reprogramming the retry counters (documented card behavior, not this
// library's choice).
func (t *Token) YkSetPINRetries(pinRetries, pukRetries byte) error {
	if err := t.requireTransaction(); err != nil {
		return err
	}
	if !t.adminAuthed {
		return newErr(KindPermission, "SET PIN RETRIES requires admin authentication")
	}
	if !t.pinVerified {
		return newErr(KindPermission, "SET PIN RETRIES requires PIN verification earlier in this transaction")
	}
	if err := t.ensureSelected(); err != nil {
		return err
	}
	a := &APDU{Class: 0x00, Ins: insYkSetPINRetries, P1: pinRetries, P2: pukRetries, WantReply: true, Le: 0x00}
	_, _, err := Exchange(t.card, t.logger(), a)
	return err
}

// YkSetMgmKey issues the YubicoPIV SET MANAGEMENT KEY extension, replacing
// the card management key (slot 9B) under alg.
func (t *Token) YkSetMgmKey(alg byte, key []byte, touchPolicy byte) error {
	if err := t.requireTransaction(); err != nil {
		return err
	}
	if !t.adminAuthed {
		return newErr(KindPermission, "SET MANAGEMENT KEY requires admin authentication")
	}
	if err := t.ensureSelected(); err != nil {
		return err
	}
	data := append([]byte{SlotCardMgmt, byte(len(key))}, key...)
	p2 := byte(0xFF)
	if touchPolicy != 0 {
		p2 = touchPolicy
	}
	a := &APDU{Class: 0x00, Ins: insYkSetMgmKey, P1: alg, P2: p2, Data: data, WantReply: true, Le: 0x00}
	_, _, err := Exchange(t.card, t.logger(), a)
	return err
}
