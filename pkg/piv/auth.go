package piv

import (
	"crypto/des"
	"crypto/rand"

	"golang.org/x/crypto/ssh"
)

// padPIN pads a PIN or PUK to 8 bytes with trailing 0xFF, per PIV's fixed
// VERIFY/CHANGE REFERENCE DATA/RESET RETRY COUNTER field widths. PINs longer
// than 8 bytes are rejected; PINs are ASCII digits in practice but this
// layer does not enforce a charset.
func padPIN(pin string) ([]byte, error) {
	if len(pin) == 0 || len(pin) > 8 {
		return nil, newErr(KindArgument, "PIN/PUK must be 1..8 bytes")
	}
	out := make([]byte, 8)
	for i := range out {
		out[i] = 0xFF
	}
	copy(out, pin)
	return out, nil
}

// VerifyPINOptions gates VerifyPIN's pre-check behavior (§4.6's
// verify_pin(type, pin, retries_in_out, can_skip)).
type VerifyPINOptions struct {
	// CanSkip, if true, sends an empty-data VERIFY probe before the real
	// PIN: a 0x9000 response means the reference is already verified this
	// session, and VerifyPIN returns success without spending an attempt.
	CanSkip bool
	// RetriesFloor, if non-nil, refuses to attempt the real VERIFY when the
	// card's current retry count (read via the same empty-data probe) is
	// below it, reporting KindMinRetries instead.
	RetriesFloor *int
}

// probeRetries sends VERIFY with empty data, which never consumes an
// attempt: a 0x9000 reply means ref is already verified this session
// (retries is meaningless, reported as -1); a 0x63Cx reply reports the
// current retry count; 0x6982/0x6983 report the reference as blocked.
func (t *Token) probeRetries(ref byte) (retries int, blocked bool, err error) {
	a := &APDU{Class: 0x00, Ins: insVerify, P1: 0x00, P2: ref, WantReply: true, Le: 0x00}
	_, sw, err := Exchange(t.card, t.logger(), a)
	if err == nil {
		return -1, false, nil
	}
	if sw&swPINWrongMask == swPINWrongValue {
		return int(sw & 0x0F), false, err
	}
	if sw == swSecurityNotSatisfied || sw == swAuthBlocked {
		return -1, true, err
	}
	return -1, false, err
}

// VerifyPIN issues VERIFY for ref (RefPIN, RefGlobalPIN, RefOCC, or
// RefPairing), per §4.6's verify_pin. A zero-length pin requests a pure
// probe: the current retry count is read and returned without ever sending
// pin. Otherwise, if opts.CanSkip or opts.RetriesFloor is set, an
// empty-data VERIFY probes the card first; its 0x9000 means the reference
// is already verified and VerifyPIN returns immediately without spending an
// attempt, its 0x63Cx count is checked against opts.RetriesFloor (refusing
// with KindMinRetries and no real attempt if the floor isn't met), and a
// blocked reference short-circuits with Permission either way. A card that
// genuinely reports 0x6982/0x6983 for the real VERIFY stays classified as
// Permission: MinRetries is reserved for the caller's own pre-check floor,
// never a post-hoc relabeling of the card's answer.
func (t *Token) VerifyPIN(ref byte, pin string, opts VerifyPINOptions) (int, error) {
	if err := t.requireTransaction(); err != nil {
		return 0, err
	}
	if err := t.ensureSelected(); err != nil {
		return 0, err
	}

	if opts.CanSkip || opts.RetriesFloor != nil || pin == "" {
		retries, blocked, perr := t.probeRetries(ref)
		if perr == nil {
			t.pinVerified = true
			return retries, nil
		}
		if blocked {
			return 0, perr
		}
		if opts.RetriesFloor != nil && retries < *opts.RetriesFloor {
			return retries, &Error{Kind: KindMinRetries, Message: "PIN/PUK below caller's retry floor", Retries: retries}
		}
		if pin == "" {
			return retries, perr
		}
	}

	padded, err := padPIN(pin)
	if err != nil {
		return 0, err
	}
	a := &APDU{Class: 0x00, Ins: insVerify, P1: 0x00, P2: ref, Data: padded, WantReply: true, Le: 0x00}
	_, _, err = Exchange(t.card, t.logger(), a)
	if err == nil {
		t.pinVerified = true
		return -1, nil
	}
	retries, _ := Retries(err)
	return retries, err
}

// ChangePIN issues CHANGE REFERENCE DATA, replacing the PIN/PUK identified
// by ref. The command data is the old value followed by the new value, each
// padded to 8 bytes independently before concatenation.
func (t *Token) ChangePIN(ref byte, oldPIN, newPIN string) error {
	if err := t.requireTransaction(); err != nil {
		return err
	}
	if err := t.ensureSelected(); err != nil {
		return err
	}
	oldPadded, err := padPIN(oldPIN)
	if err != nil {
		return err
	}
	newPadded, err := padPIN(newPIN)
	if err != nil {
		return err
	}
	data := append(append([]byte{}, oldPadded...), newPadded...)
	a := &APDU{Class: 0x00, Ins: insChangeReference, P1: 0x00, P2: ref, Data: data, WantReply: true, Le: 0x00}
	_, _, err = Exchange(t.card, t.logger(), a)
	return err
}

// ResetPIN issues RESET RETRY COUNTER: puk unblocks RefPIN and sets newPIN.
func (t *Token) ResetPIN(puk, newPIN string) error {
	if err := t.requireTransaction(); err != nil {
		return err
	}
	if err := t.ensureSelected(); err != nil {
		return err
	}
	pukPadded, err := padPIN(puk)
	if err != nil {
		return err
	}
	newPadded, err := padPIN(newPIN)
	if err != nil {
		return err
	}
	data := append(append([]byte{}, pukPadded...), newPadded...)
	a := &APDU{Class: 0x00, Ins: insResetRetryCounter, P1: 0x00, P2: RefPIN, Data: data, WantReply: true, Le: 0x00}
	_, _, err = Exchange(t.card, t.logger(), a)
	return err
}

// GENERAL AUTHENTICATE dynamic authentication template tags (§4.6, §6).
const (
	datWitness   uint32 = 0x80
	datChallenge uint32 = 0x81
	datResponse  uint32 = 0x82
	datTemplate  uint32 = 0x7C
)

// AuthAdmin performs the three-pass mutual authentication GENERAL
// AUTHENTICATE exchange against the card management key (slot 9B), using a
// caller-supplied symmetric key under alg (Alg3DES, AlgAES128/192/256).
// The card's witness is decrypted and echoed back (proving the host knows
// the key), then the host's own challenge is encrypted by the card and
// checked against the independently computed value.
func (t *Token) AuthAdmin(alg byte, key []byte) error {
	if err := t.requireTransaction(); err != nil {
		return err
	}
	if err := t.ensureSelected(); err != nil {
		return err
	}

	block, err := newAdminCipher(alg, key)
	if err != nil {
		return err
	}

	// Step 1: request a witness.
	req := NewBuffer()
	req.OpenConstructed(datTemplate)
	req.WriteTLV(datWitness, nil)
	req.Close()
	a := &APDU{Class: 0x00, Ins: insGeneralAuthenticate, P1: alg, P2: SlotCardMgmt, Data: req.Bytes(), WantReply: true, Le: 0x00}
	reply, _, err := Exchange(t.card, t.logger(), a)
	if err != nil {
		return err
	}
	witness, err := readDynAuthField(reply, datWitness)
	if err != nil {
		return err
	}
	decryptedWitness := make([]byte, len(witness))
	block.Decrypt(decryptedWitness, witness)

	// Step 2: echo the decrypted witness back, plus our own challenge.
	challenge := make([]byte, block.BlockSize())
	if _, err := rand.Read(challenge); err != nil {
		return wrapErr(KindIO, "generate admin-auth challenge", err)
	}
	req2 := NewBuffer()
	req2.OpenConstructed(datTemplate)
	req2.WriteTLV(datWitness, decryptedWitness)
	req2.WriteTLV(datChallenge, challenge)
	req2.Close()
	a2 := &APDU{Class: 0x00, Ins: insGeneralAuthenticate, P1: alg, P2: SlotCardMgmt, Data: req2.Bytes(), WantReply: true, Le: 0x00}
	reply2, _, err := Exchange(t.card, t.logger(), a2)
	if err != nil {
		return wrapErr(KindPermission, "admin key rejected", err)
	}
	response, err := readDynAuthField(reply2, datResponse)
	if err != nil {
		return err
	}
	decryptedResponse := make([]byte, len(response))
	block.Decrypt(decryptedResponse, response)
	if !bytesEqual(decryptedResponse, challenge) {
		return newErr(KindPermission, "admin key authentication failed: challenge mismatch")
	}

	t.adminAuthed = true
	return nil
}

// adminCipher is the minimal block-cipher surface AuthAdmin needs; both DES
// and AES satisfy it via crypto/cipher.Block.
type adminCipher interface {
	BlockSize() int
	Decrypt(dst, src []byte)
}

func newAdminCipher(alg byte, key []byte) (adminCipher, error) {
	switch alg {
	case Alg3DES:
		if len(key) != 24 {
			return nil, newErr(KindArgument, "3DES management key must be 24 bytes")
		}
		c, err := des.NewTripleDESCipher(key)
		if err != nil {
			return nil, wrapErr(KindArgument, "invalid 3DES key", err)
		}
		return c, nil
	case AlgAES128, AlgAES192, AlgAES256:
		want := map[byte]int{AlgAES128: 16, AlgAES192: 24, AlgAES256: 32}[alg]
		if len(key) != want {
			return nil, newErr(KindArgument, "AES management key has wrong length")
		}
		c, err := newAESCipher(key)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, newErr(KindArgument, "unsupported management key algorithm")
	}
}

func readDynAuthField(reply []byte, wantTag uint32) ([]byte, error) {
	r := NewReader(reply)
	tag, value, err := r.ReadTLV()
	if err != nil {
		return nil, err
	}
	if tag != datTemplate {
		return nil, newErr(KindInvalidData, "GENERAL AUTHENTICATE: expected dynamic auth template")
	}
	inner := NewReader(value)
	for inner.Remaining() > 0 {
		t2, v2, err := inner.ReadTLV()
		if err != nil {
			return nil, err
		}
		if t2 == wantTag {
			return v2, nil
		}
	}
	return nil, newErr(KindInvalidData, "GENERAL AUTHENTICATE: missing expected field in response")
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AuthKey checks a key against the public key on record for slot by
// behavior: it passes a random 16-byte challenge to the caller's signer and
// then hands slot.PublicKey, the challenge and the signature to the caller's
// verify function. It sends no command to the card itself, and it does not
// compare any supplied public key with slot.PublicKey.
func (t *Token) AuthKey(slot *Slot, signer func(challenge []byte) (sig []byte, err error), verify func(pub ssh.PublicKey, challenge, sig []byte) error) error {
	if slot.PublicKey == nil {
		return newErr(KindArgument, "slot has no public key on record")
	}
	challenge := make([]byte, 16)
	if _, err := rand.Read(challenge); err != nil {
		return wrapErr(KindIO, "generate auth-key challenge", err)
	}
	sig, err := signer(challenge)
	if err != nil {
		return wrapErr(KindKeyAuth, "sign auth-key challenge", err)
	}
	if err := verify(slot.PublicKey, challenge, sig); err != nil {
		return wrapErr(KindKeyAuth, "auth-key verification failed", err)
	}
	return nil
}
