package piv

import (
	"crypto/sha1"
	"crypto/rand"
	"fmt"
)

// CHUID tag numbers (§4.4). The GUID tag is 0x34 and must be exactly 16
// bytes; an issuer signature at 0x3E marks the CHUID as signed.
const (
	chuidTagFASCN     uint32 = 0x30
	chuidTagGUID      uint32 = 0x34
	chuidTagExpiry    uint32 = 0x35
	chuidTagSignature uint32 = 0x3E
)

// parseCHUID extracts FASC-N, GUID, expiry, and the signed flag from a raw
// CHUID BER-TLV document and stores them on t. If the GUID tag is absent or
// not exactly 16 bytes, the GUID is synthesized from a SHA-1 hash of the
// FASC-N or, failing that, randomized, per §4.4.
func (t *Token) parseCHUID(raw []byte) error {
	fields, err := ParseTLVMap(raw)
	if err != nil {
		return err
	}
	t.CHUID = raw
	if fascn, ok := fields[chuidTagFASCN]; ok {
		t.FASCN = fascn
	}
	if _, signed := fields[chuidTagSignature]; signed {
		t.CHUIDSigned = true
	}

	guid, ok := fields[chuidTagGUID]
	if ok && len(guid) == 16 {
		copy(t.GUID[:], guid)
		return nil
	}
	if len(t.FASCN) > 0 {
		sum := sha1.Sum(t.FASCN)
		copy(t.GUID[:], sum[:16])
		return nil
	}
	if _, err := rand.Read(t.GUID[:]); err != nil {
		return wrapErr(KindIO, "synthesize GUID", err)
	}
	return nil
}

// DISCOVERY's "PIN usage policy" and applet AID sub-field tags within the
// 0x7E container.
const (
	discovTagPolicy uint32 = 0x5F2F
	discovTagAID    uint32 = 0x4F
)

// parseDiscovery extracts the default authentication method and the set of
// supported authentication methods, plus the VCI flag, from a DISCOVERY
// object (§4.4).
func (t *Token) parseDiscovery(raw []byte) error {
	fields, err := ParseTLVMap(raw)
	if err != nil {
		return err
	}
	if inner, ok := fields[tagDiscov]; ok {
		if fields, err = ParseTLVMap(inner); err != nil {
			return err
		}
	}
	policy, ok := fields[discovTagPolicy]
	if !ok || len(policy) < 2 {
		return newErr(KindInvalidData, "DISCOVERY missing PIN usage policy field")
	}
	b0, b1 := policy[0], policy[1]

	var methods AuthMethod
	if b0&0x40 != 0 {
		methods |= AuthPIN
	}
	if b0&0x20 != 0 {
		methods |= AuthGlobalPIN
	}
	if b0&0x10 != 0 {
		methods |= AuthOCC
	}
	if b0&0x08 != 0 {
		methods |= AuthPairing
	}
	t.AuthMethods = methods
	t.VCI = b1&0x01 != 0

	switch {
	case b0&0x40 != 0:
		t.DefaultAuth = AuthPIN
	case b0&0x20 != 0:
		t.DefaultAuth = AuthGlobalPIN
	case b0&0x10 != 0:
		t.DefaultAuth = AuthOCC
	}
	return nil
}

// parseKeyHistory decodes KEYHIST as a BER-TLV map (§4.4): 0xC1 is the
// one-byte on-card count, 0xC2 the one-byte off-card count, and 0xF3 the
// off-card URL. An off-card count above zero without a URL is rejected.
func (t *Token) parseKeyHistory(raw []byte) error {
	fields, err := ParseTLVMap(raw)
	if err != nil {
		return err
	}
	if v, ok := fields[0xC1]; ok && len(v) == 1 {
		t.KeyHistoryOnCard = int(v[0])
	}
	if v, ok := fields[0xC2]; ok && len(v) == 1 {
		t.KeyHistoryOffCard = int(v[0])
	}
	if v, ok := fields[0xF3]; ok {
		t.KeyHistoryURL = string(v)
	}
	if t.KeyHistoryOffCard > 0 && t.KeyHistoryURL == "" {
		return newErr(KindInvalidData, "KEYHIST: off-card count > 0 but URL is empty")
	}
	return nil
}

// maxKeyHistoryURL is the cap this library enforces on WriteKeyHistory's URL
// field: the PIV off-card URL object's documented maximum (DESIGN.md).
const maxKeyHistoryURL = 118

// WriteKeyHistory issues PUT DATA on KEYHIST with the TLV layout above.
// If offcard > 0, url must be non-empty and within maxKeyHistoryURL bytes.
func (t *Token) WriteKeyHistory(oncard, offcard int, url string) error {
	if err := t.requireTransaction(); err != nil {
		return err
	}
	if oncard < 0 || oncard > 20 || offcard < 0 || offcard > 20 {
		return newErr(KindArgument, "key history counts must be in 0..20")
	}
	if offcard > 0 && url == "" {
		return newErr(KindArgument, "off-card count > 0 requires a non-empty URL")
	}
	if len(url) > maxKeyHistoryURL {
		return newErr(KindArgument, fmt.Sprintf("off-card URL exceeds %d bytes", maxKeyHistoryURL))
	}
	if err := t.ensureSelected(); err != nil {
		return err
	}

	body := NewBuffer()
	body.WriteTLV(0xC1, []byte{byte(oncard)})
	body.WriteTLV(0xC2, []byte{byte(offcard)})
	if url != "" {
		body.WriteTLV(0xF3, []byte(url))
	}
	return putData(t.card, t.logger(), tagKeyHist, body.Bytes())
}
