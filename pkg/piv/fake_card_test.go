package piv

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"math/big"
)

// fakeCard is an in-memory, single-threaded stand-in for a PIV applet. It
// understands just enough of SELECT, GET DATA, PUT DATA, VERIFY, and
// command chaining/GET RESPONSE framing to exercise the codec and engine
// without a physical reader.
type fakeCard struct {
	objects map[uint32][]byte
	pin     string
	puk     string
	retries int

	// chainBuf accumulates command-chained data across calls.
	chainBuf []byte

	// pendingReply holds bytes still to be delivered via GET RESPONSE.
	pendingReply []byte

	// maxChunk caps how many bytes a single reply carries before the fake
	// reports 0x61xx "more data", so reassembly can be exercised.
	maxChunk int

	selected    bool
	beginCalls  int
	endCalls    int
	reconnected int

	// verified tracks whether the PIN was verified in this simulated
	// session, so an empty-data VERIFY probe can answer 0x9000 instead of
	// always reporting the retry count.
	verified bool

	mgmAlg     byte
	mgmKey     []byte
	mgmWitness []byte

	// rsaKeys/ecKeys let a test register a real private key behind a slot,
	// so GENERAL AUTHENTICATE SIGN produces a signature that actually
	// verifies under the matching public key instead of the default
	// challenge-echo used by tests that only care about APDU framing.
	rsaKeys map[byte]*rsa.PrivateKey
	ecKeys  map[byte]*ecdsa.PrivateKey
}

func (f *fakeCard) setRSAKey(slot byte, priv *rsa.PrivateKey) {
	if f.rsaKeys == nil {
		f.rsaKeys = map[byte]*rsa.PrivateKey{}
	}
	f.rsaKeys[slot] = priv
}

func (f *fakeCard) setECKey(slot byte, priv *ecdsa.PrivateKey) {
	if f.ecKeys == nil {
		f.ecKeys = map[byte]*ecdsa.PrivateKey{}
	}
	f.ecKeys[slot] = priv
}

// rsaRawSign computes m^d mod n over an already-padded EM block, the raw
// RSA private-key operation GENERAL AUTHENTICATE SIGN performs (the host
// layer in sign.go is responsible for the PKCS#1 v1.5 padding itself).
func rsaRawSign(priv *rsa.PrivateKey, em []byte) []byte {
	m := new(big.Int).SetBytes(em)
	c := new(big.Int).Exp(m, priv.D, priv.N)
	size := (priv.N.BitLen() + 7) / 8
	sig := make([]byte, size)
	c.FillBytes(sig)
	return sig
}

// ecRawSign signs digest and returns the raw, concatenated r||s form (not
// DER), so tests can exercise sign.go's DER-wrapping of a card that answers
// this way.
func ecRawSign(priv *ecdsa.PrivateKey, digest []byte) []byte {
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest)
	if err != nil {
		panic(err)
	}
	size := (priv.Curve.Params().BitSize + 7) / 8
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out
}

func newFakeCard() *fakeCard {
	return &fakeCard{objects: map[uint32][]byte{}, pin: "123456", puk: "12345678", retries: 3, maxChunk: 256}
}

// setManagementKey configures the fake applet's card management key for
// AuthAdmin tests.
func (f *fakeCard) setManagementKey(alg byte, key []byte) {
	f.mgmAlg = alg
	f.mgmKey = key
}

func (f *fakeCard) mgmBlockCipher() cipher.Block {
	switch f.mgmAlg {
	case Alg3DES:
		c, _ := des.NewTripleDESCipher(f.mgmKey)
		return c
	default:
		c, _ := aes.NewCipher(f.mgmKey)
		return c
	}
}

func (f *fakeCard) BeginTransaction() error { f.beginCalls++; return nil }
func (f *fakeCard) EndTransaction() error   { f.endCalls++; return nil }
func (f *fakeCard) Reconnect() error        { f.reconnected++; return nil }

func (f *fakeCard) Transmit(apdu []byte) ([]byte, error) {
	if len(apdu) < 4 {
		return []byte{0x67, 0x00}, nil
	}
	class, ins, p1, p2 := apdu[0], apdu[1], apdu[2], apdu[3]
	chained := class&0x10 != 0

	// GET RESPONSE drains pendingReply regardless of chaining state.
	if ins == insGetResponse {
		return f.serveReply(), nil
	}

	data, _ := extractLc(apdu)
	if chained {
		f.chainBuf = append(f.chainBuf, data...)
		return []byte{0x90, 0x00}, nil
	}
	full := append(f.chainBuf, data...)
	f.chainBuf = nil

	switch ins {
	case insSelect:
		f.selected = true
		return []byte{0x90, 0x00}, nil
	case insGetData:
		return f.getData(full)
	case insPutData:
		return f.putData(full)
	case insVerify:
		return f.verify(full)
	case insChangeReference:
		return f.changeReference(full)
	case insResetRetryCounter:
		return f.resetRetryCounter(full)
	case insGeneralAuthenticate:
		return f.generalAuth(p1, p2, full)
	default:
		return []byte{0x6D, 0x00}, nil
	}
}

func extractLc(apdu []byte) (data []byte, le bool) {
	if len(apdu) <= 4 {
		return nil, false
	}
	rest := apdu[4:]
	if rest[0] == 0x00 && len(rest) >= 3 {
		n := int(rest[1])<<8 | int(rest[2])
		if len(rest) >= 3+n {
			return rest[3 : 3+n], len(rest) > 3+n
		}
	}
	n := int(rest[0])
	if len(rest) >= 1+n {
		return rest[1 : 1+n], len(rest) > 1+n
	}
	return nil, false
}

func (f *fakeCard) serveReply() []byte {
	if len(f.pendingReply) == 0 {
		return []byte{0x6A, 0x88}
	}
	n := len(f.pendingReply)
	if n > f.maxChunk {
		n = f.maxChunk
	}
	chunk := f.pendingReply[:n]
	f.pendingReply = f.pendingReply[n:]
	if len(f.pendingReply) == 0 {
		return append(append([]byte{}, chunk...), 0x90, 0x00)
	}
	remaining := len(f.pendingReply)
	swByte := byte(remaining)
	if remaining > 255 {
		swByte = 0x00
	}
	return append(append([]byte{}, chunk...), 0x61, swByte)
}

func (f *fakeCard) getData(req []byte) ([]byte, error) {
	r := NewReader(req)
	tag, value, err := r.ReadTLV()
	if err != nil || tag != 0x5C {
		return []byte{0x6A, 0x80}, nil
	}
	objTag := uint32(0)
	for _, b := range value {
		objTag = objTag<<8 | uint32(b)
	}
	obj, ok := f.objects[objTag]
	if !ok {
		return []byte{0x6A, 0x82}, nil
	}
	wb := NewBuffer()
	wb.WriteTLV(0x53, obj)
	f.pendingReply = wb.Bytes()
	return f.serveReply(), nil
}

func (f *fakeCard) putData(req []byte) ([]byte, error) {
	fields, err := ParseTLVMap(req)
	if err != nil {
		return []byte{0x6A, 0x80}, nil
	}
	tagBytes, ok := fields[0x5C]
	if !ok {
		return []byte{0x6A, 0x80}, nil
	}
	objTag := uint32(0)
	for _, b := range tagBytes {
		objTag = objTag<<8 | uint32(b)
	}
	f.objects[objTag] = fields[0x53]
	return []byte{0x90, 0x00}, nil
}

func (f *fakeCard) verify(data []byte) ([]byte, error) {
	if len(data) == 0 {
		if f.verified {
			return []byte{0x90, 0x00}, nil
		}
		return []byte{0x63, byte(0xC0 | f.retries)}, nil
	}
	if bytes.Equal(data, padPINForFake(f.pin)) {
		f.retries = 3
		f.verified = true
		return []byte{0x90, 0x00}, nil
	}
	if f.retries > 0 {
		f.retries--
	}
	return []byte{0x63, byte(0xC0 | f.retries)}, nil
}

// changeReference implements CHANGE REFERENCE DATA for RefPIN: data is the
// old value's 8-byte padding followed by the new value's.
func (f *fakeCard) changeReference(data []byte) ([]byte, error) {
	if len(data) != 16 {
		return []byte{0x6A, 0x80}, nil
	}
	if !bytes.Equal(data[:8], padPINForFake(f.pin)) {
		if f.retries > 0 {
			f.retries--
		}
		return []byte{0x63, byte(0xC0 | f.retries)}, nil
	}
	f.pin = trimPINPadding(data[8:])
	f.retries = 3
	f.verified = false
	return []byte{0x90, 0x00}, nil
}

// resetRetryCounter implements RESET RETRY COUNTER: data is the PUK's
// 8-byte padding followed by the new PIN's.
func (f *fakeCard) resetRetryCounter(data []byte) ([]byte, error) {
	if len(data) != 16 {
		return []byte{0x6A, 0x80}, nil
	}
	if !bytes.Equal(data[:8], padPINForFake(f.puk)) {
		return []byte{0x63, 0xC0}, nil
	}
	f.pin = trimPINPadding(data[8:])
	f.retries = 3
	f.verified = false
	return []byte{0x90, 0x00}, nil
}

func padPINForFake(pin string) []byte {
	out := make([]byte, 8)
	copy(out, []byte(pin))
	for i := len(pin); i < 8; i++ {
		out[i] = 0xFF
	}
	return out
}

func trimPINPadding(padded []byte) string {
	n := len(padded)
	for n > 0 && padded[n-1] == 0xFF {
		n--
	}
	return string(padded[:n])
}

// generalAuth dispatches GENERAL AUTHENTICATE by slot and field shape: slot
// 9B's witness exchange drives AuthAdmin tests; any other slot's empty
// response field with a challenge echoes the challenge back as the
// "signature", enough to exercise APDU framing without real cryptography.
func (f *fakeCard) generalAuth(p1, p2 byte, req []byte) ([]byte, error) {
	r := NewReader(req)
	tag, value, err := r.ReadTLV()
	if err != nil || tag != datTemplate {
		return []byte{0x6A, 0x80}, nil
	}
	fields, err := ParseTLVMap(value)
	if err != nil {
		return []byte{0x6A, 0x80}, nil
	}

	if p2 == SlotCardMgmt {
		return f.adminAuth(fields)
	}

	if _, ecdh := fields[0x85]; ecdh {
		// Not exercised by the fake's tests; report a flat X-only echo.
		resp := NewBuffer()
		resp.OpenConstructed(datTemplate)
		resp.WriteTLV(datResponse, fields[0x85])
		resp.Close()
		f.pendingReply = resp.Bytes()
		return f.serveReply(), nil
	}

	challenge := fields[datChallenge]
	switch p1 {
	case AlgPinSHA1:
		sum := sha1.Sum(challenge)
		challenge = sum[:]
	case AlgPinSHA256:
		sum := sha256.Sum256(challenge)
		challenge = sum[:]
	}

	var sigBytes []byte
	switch {
	case f.rsaKeys[p2] != nil:
		sigBytes = rsaRawSign(f.rsaKeys[p2], challenge)
	case f.ecKeys[p2] != nil:
		sigBytes = ecRawSign(f.ecKeys[p2], challenge)
	default:
		sigBytes = challenge
	}

	resp := NewBuffer()
	resp.OpenConstructed(datTemplate)
	resp.WriteTLV(datResponse, sigBytes)
	resp.Close()
	f.pendingReply = resp.Bytes()
	return f.serveReply(), nil
}

func (f *fakeCard) adminAuth(fields map[uint32][]byte) ([]byte, error) {
	witness, hasWitness := fields[datWitness]
	challenge, hasChallenge := fields[datChallenge]

	block := f.mgmBlockCipher()
	bs := block.BlockSize()

	if hasWitness && len(witness) == 0 && !hasChallenge {
		// Step 1: generate a random witness, encrypt it, send ciphertext.
		r := make([]byte, bs)
		rand.Read(r)
		f.mgmWitness = r
		ct := make([]byte, bs)
		block.Encrypt(ct, r)

		resp := NewBuffer()
		resp.OpenConstructed(datTemplate)
		resp.WriteTLV(datWitness, ct)
		resp.Close()
		f.pendingReply = resp.Bytes()
		return f.serveReply(), nil
	}

	if hasWitness && hasChallenge {
		// Step 2: verify the echoed witness, then encrypt the host challenge.
		if !bytes.Equal(witness, f.mgmWitness) {
			return []byte{0x69, 0x82}, nil
		}
		ct := make([]byte, bs)
		block.Encrypt(ct, challenge)

		resp := NewBuffer()
		resp.OpenConstructed(datTemplate)
		resp.WriteTLV(datResponse, ct)
		resp.Close()
		f.pendingReply = resp.Bytes()
		return f.serveReply(), nil
	}

	return []byte{0x6A, 0x80}, nil
}
