package piv

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestVerifyPINSuccess(t *testing.T) {
	card := newFakeCard()
	tok := newToken("test", card, nil)
	txn, err := tok.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.End()

	if _, err := tok.VerifyPIN(RefPIN, "123456", VerifyPINOptions{}); err != nil {
		t.Fatalf("VerifyPIN: %v", err)
	}
}

func TestVerifyPINWrongDecrementsRetries(t *testing.T) {
	card := newFakeCard()
	tok := newToken("test", card, nil)
	txn, err := tok.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.End()

	_, err = tok.VerifyPIN(RefPIN, "000000", VerifyPINOptions{})
	if err == nil {
		t.Fatalf("expected an error for a wrong PIN")
	}
	retries, ok := Retries(err)
	if !ok || retries != 2 {
		t.Fatalf("expected 2 remaining retries, got %d (ok=%v)", retries, ok)
	}
}

// TestVerifyPINBlockedCardStaysPermission checks that a card-reported
// blocked reference (0x63C0 from the fake) is never relabeled MinRetries: that kind is
// reserved for the caller's own pre-check floor.
func TestVerifyPINBlockedCardStaysPermission(t *testing.T) {
	card := newFakeCard()
	card.retries = 0
	tok := newToken("test", card, nil)
	txn, err := tok.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.End()

	_, err = tok.VerifyPIN(RefPIN, "000000", VerifyPINOptions{})
	if !Is(err, KindPermission) || Is(err, KindMinRetries) {
		t.Fatalf("expected a blocked reference to stay KindPermission, got %v", err)
	}
}

// TestVerifyPINRetriesFloorRefusesWithoutAttempt checks the pre-check path:
// when the card's current retry count is below the caller's floor, VerifyPIN
// must refuse before ever sending the real PIN, leaving the card's retry
// counter untouched.
func TestVerifyPINRetriesFloorRefusesWithoutAttempt(t *testing.T) {
	card := newFakeCard()
	card.retries = 2
	tok := newToken("test", card, nil)
	txn, err := tok.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.End()

	floor := 3
	_, err = tok.VerifyPIN(RefPIN, "000000", VerifyPINOptions{RetriesFloor: &floor})
	if !Is(err, KindMinRetries) {
		t.Fatalf("expected KindMinRetries below the retry floor, got %v", err)
	}
	if card.retries != 2 {
		t.Fatalf("expected the floor refusal to leave retries untouched, got %d", card.retries)
	}
}

// TestVerifyPINCanSkipUsesSingleProbeWhenAlreadyVerified mirrors the
// spec's "can_skip=true, already verified" scenario: exactly one APDU (the
// empty-data probe) is sent and no attempt is consumed.
func TestVerifyPINCanSkipUsesSingleProbeWhenAlreadyVerified(t *testing.T) {
	card := newFakeCard()
	card.verified = true
	tok := newToken("test", card, nil)
	txn, err := tok.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.End()

	retries, err := tok.VerifyPIN(RefPIN, "000000", VerifyPINOptions{CanSkip: true})
	if err != nil {
		t.Fatalf("VerifyPIN with CanSkip against an empty-PIN card: %v", err)
	}
	if retries != -1 {
		t.Fatalf("expected -1 (not applicable) for an already-verified probe, got %d", retries)
	}
	if !tok.pinVerified {
		t.Fatalf("expected pinVerified to be set from the probe alone")
	}
	if card.retries != 3 {
		t.Fatalf("expected the probe to consume no attempt, got retries=%d", card.retries)
	}
}

func TestVerifyPINProbeDoesNotConsumeRetry(t *testing.T) {
	card := newFakeCard()
	tok := newToken("test", card, nil)
	txn, err := tok.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.End()

	_, err = tok.VerifyPIN(RefPIN, "", VerifyPINOptions{})
	if err == nil {
		t.Fatalf("expected the probe form to report an error carrying the retry count")
	}
	retries, ok := Retries(err)
	if !ok || retries != 3 {
		t.Fatalf("expected the probe to leave retries untouched at 3, got %d", retries)
	}
}

func TestChangePIN(t *testing.T) {
	card := newFakeCard()
	tok := newToken("test", card, nil)
	txn, err := tok.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.End()

	if err := tok.ChangePIN(RefPIN, "123456", "654321"); err != nil {
		t.Fatalf("ChangePIN: %v", err)
	}
	if _, err := tok.VerifyPIN(RefPIN, "654321", VerifyPINOptions{}); err != nil {
		t.Fatalf("VerifyPIN with new PIN: %v", err)
	}
}

func TestResetPIN(t *testing.T) {
	card := newFakeCard()
	tok := newToken("test", card, nil)
	txn, err := tok.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.End()

	if err := tok.ResetPIN("12345678", "111111"); err != nil {
		t.Fatalf("ResetPIN: %v", err)
	}
	if _, err := tok.VerifyPIN(RefPIN, "111111", VerifyPINOptions{}); err != nil {
		t.Fatalf("VerifyPIN with reset PIN: %v", err)
	}
}

func TestAuthAdminMutualAuthSucceeds(t *testing.T) {
	card := newFakeCard()
	key := bytes.Repeat([]byte{0x11}, 24)
	card.setManagementKey(Alg3DES, key)

	tok := newToken("test", card, nil)
	txn, err := tok.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.End()

	if err := tok.AuthAdmin(Alg3DES, key); err != nil {
		t.Fatalf("AuthAdmin: %v", err)
	}
	if !tok.adminAuthed {
		t.Fatalf("expected adminAuthed to be set after a successful AuthAdmin")
	}
}

func TestAuthAdminRejectsWrongKey(t *testing.T) {
	card := newFakeCard()
	card.setManagementKey(Alg3DES, bytes.Repeat([]byte{0x11}, 24))

	tok := newToken("test", card, nil)
	txn, err := tok.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.End()

	err = tok.AuthAdmin(Alg3DES, bytes.Repeat([]byte{0x22}, 24))
	if !Is(err, KindPermission) {
		t.Fatalf("expected KindPermission for a mismatched management key, got %v", err)
	}
}

func TestAuthAdminWithAES256(t *testing.T) {
	card := newFakeCard()
	key := bytes.Repeat([]byte{0x42}, 32)
	card.setManagementKey(AlgAES256, key)

	tok := newToken("test", card, nil)
	txn, err := tok.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.End()

	if err := tok.AuthAdmin(AlgAES256, key); err != nil {
		t.Fatalf("AuthAdmin with AES-256: %v", err)
	}
}

func TestAuthAdminEndsWithTransaction(t *testing.T) {
	card := newFakeCard()
	key := bytes.Repeat([]byte{0x11}, 24)
	card.setManagementKey(Alg3DES, key)

	tok := newToken("test", card, nil)
	txn, err := tok.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tok.AuthAdmin(Alg3DES, key); err != nil {
		t.Fatalf("AuthAdmin: %v", err)
	}
	txn.End()
	if tok.adminAuthed {
		t.Fatalf("expected adminAuthed to be cleared once the transaction ends")
	}
}

func TestAuthKeySucceedsWhenSignerMatchesVerifier(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("ssh.NewPublicKey: %v", err)
	}
	slot := &Slot{ID: SlotAuthentication, PublicKey: sshPub}
	tok := &Token{}

	called := false
	signer := func(challenge []byte) ([]byte, error) {
		called = true
		return append([]byte{}, challenge...), nil
	}

	err = tok.AuthKey(slot, signer, func(pub ssh.PublicKey, challenge, sig []byte) error {
		if !bytes.Equal(challenge, sig) {
			t.Fatalf("expected the echoed signature to equal the challenge in this fake verifier")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AuthKey: %v", err)
	}
	if !called {
		t.Fatalf("expected the signer to be invoked")
	}
}

func TestAuthKeyRejectsSlotWithoutPublicKey(t *testing.T) {
	slot := &Slot{ID: SlotAuthentication}
	tok := &Token{}
	err := tok.AuthKey(slot, func(challenge []byte) ([]byte, error) { return challenge, nil },
		func(pub ssh.PublicKey, challenge, sig []byte) error { return nil })
	if !Is(err, KindArgument) {
		t.Fatalf("expected KindArgument for a slot with no public key, got %v", err)
	}
}

func TestAuthKeyFailsWhenVerifierRejects(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("ssh.NewPublicKey: %v", err)
	}
	slot := &Slot{ID: SlotAuthentication, PublicKey: sshPub}
	tok := &Token{}

	err = tok.AuthKey(slot, func(challenge []byte) ([]byte, error) { return challenge, nil },
		func(pub ssh.PublicKey, challenge, sig []byte) error {
			return newErr(KindKeyAuth, "signature does not match")
		})
	if !Is(err, KindKeyAuth) {
		t.Fatalf("expected KindKeyAuth when the verifier rejects, got %v", err)
	}
}
