package piv

import (
	"bytes"
	"compress/gzip"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// Slot is a per-slot descriptor: id, algorithm, parsed certificate and the
// data extracted from it, plus whether the certificate was read compressed.
// A slot created by ForceSlot has everything but ID and Alg left zero: sign
// is still callable against it, cert/pubkey are not.
type Slot struct {
	ID         byte
	Alg        byte
	Cert       *x509.Certificate
	SubjectDN  string
	PublicKey  ssh.PublicKey
	Compressed bool

	token *Token
}

// ForceSlot creates a slot stub for a slot lacking a certificate, so Sign is
// still callable against it even though Cert/PublicKey stay nil.
func (t *Token) ForceSlot(id byte, alg byte) *Slot {
	if existing, ok := t.Slot(id); ok {
		existing.Alg = alg
		return existing
	}
	s := &Slot{ID: id, Alg: alg, token: t}
	t.slots = append(t.slots, s)
	return s
}

// ReadCert populates (or refreshes) the slot for id by issuing GET DATA on
// the slot's certificate object tag and parsing the 0x53 container (§4.5).
func (t *Token) ReadCert(id byte) (*Slot, error) {
	if err := t.requireTransaction(); err != nil {
		return nil, err
	}
	if err := t.ensureSelected(); err != nil {
		return nil, err
	}
	tag, ok := certTagForSlot[id]
	if !ok {
		return nil, newErr(KindArgument, fmt.Sprintf("slot 0x%02X is not a certificate-bearing slot", id))
	}

	container, err := getData(t.card, t.logger(), tag)
	if err != nil {
		return nil, err
	}
	fields, err := ParseTLVMap(container)
	if err != nil {
		return nil, err
	}
	der, ok := fields[0x70]
	if !ok {
		return nil, newErr(KindNotFound, "certificate object present but missing 0x70 cert field")
	}
	compressed := false
	if flag, ok := fields[0x71]; ok && len(flag) == 1 && flag[0] == 1 {
		compressed = true
		der, err = gunzip(der)
		if err != nil {
			return nil, wrapErr(KindInvalidData, "gzip-compressed certificate", err)
		}
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, wrapErr(KindInvalidData, "parse X.509 certificate", err)
	}

	pub, alg, err := publicKeyAndAlgorithm(cert.PublicKey)
	if err != nil {
		return nil, err
	}

	slot, existed := t.Slot(id)
	if !existed {
		slot = &Slot{ID: id, token: t}
		t.slots = append(t.slots, slot)
	}
	slot.Alg = alg
	slot.Cert = cert
	slot.SubjectDN = cert.Subject.String()
	slot.PublicKey = pub
	slot.Compressed = compressed
	return slot, nil
}

// SkippedSlots is returned by ReadAllCerts to record which slots were
// skipped because reading their certificate required PIN verification the
// caller hadn't performed yet (§4.5 Open Question: tolerate per-slot
// Permission, recording which were skipped rather than aborting the scan).
type SkippedSlots []byte

// ReadAllCerts iterates the fixed slot enumeration, tolerating NotFound,
// NotSupported, and per-slot Permission failures; any other error aborts and
// is returned.
func (t *Token) ReadAllCerts() (SkippedSlots, error) {
	var skipped SkippedSlots
	for _, id := range allCertSlots() {
		_, err := t.ReadCert(id)
		switch {
		case err == nil:
		case IsNotFound(err), IsNotSupported(err):
			continue
		case IsPermission(err):
			skipped = append(skipped, id)
		default:
			return skipped, err
		}
	}
	return skipped, nil
}

// WriteCert writes cert's DER encoding into the slot's certificate object.
// If the DER exceeds the card's advertised buffer (~2000 bytes is the
// typical threshold for PIV applets), it is gzip-compressed and the
// compression flag set, per §4.6.
func (t *Token) WriteCert(id byte, der []byte) error {
	if err := t.requireTransaction(); err != nil {
		return err
	}
	if err := t.ensureSelected(); err != nil {
		return err
	}
	tag, ok := certTagForSlot[id]
	if !ok {
		return newErr(KindArgument, fmt.Sprintf("slot 0x%02X is not a certificate-bearing slot", id))
	}

	compressed := byte(0)
	body := der
	if len(der) > 2000 {
		gz, err := gzipBytes(der)
		if err != nil {
			return wrapErr(KindArgument, "gzip certificate", err)
		}
		body = gz
		compressed = 1
	}

	container := NewBuffer()
	container.WriteTLV(0x70, body)
	container.WriteTLV(0x71, []byte{compressed})
	container.WriteTLV(0xFE, nil)

	return putData(t.card, t.logger(), tag, container.Bytes())
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// publicKeyAndAlgorithm extracts an SSH-wire-form public key from a parsed
// certificate's public key and infers the PIV algorithm id per NIST SP
// 800-78-4: RSA 1024/2048 -> 0x06/0x07; EC P-256 -> 0x11; EC P-384 -> 0x14.
func publicKeyAndAlgorithm(pub interface{}) (ssh.PublicKey, byte, error) {
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, 0, wrapErr(KindInvalidData, "certificate public key unsupported", err)
	}
	switch k := pub.(type) {
	case *rsa.PublicKey:
		switch k.N.BitLen() {
		case 1024:
			return sshPub, AlgRSA1024, nil
		case 2048:
			return sshPub, AlgRSA2048, nil
		default:
			return nil, 0, newErr(KindNotSupported, fmt.Sprintf("unsupported RSA modulus size %d", k.N.BitLen()))
		}
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return sshPub, AlgECCP256, nil
		case elliptic.P384():
			return sshPub, AlgECCP384, nil
		default:
			return nil, 0, newErr(KindNotSupported, "unsupported EC curve")
		}
	default:
		return nil, 0, newErr(KindNotSupported, "unsupported public key type")
	}
}
