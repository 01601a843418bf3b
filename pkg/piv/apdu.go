package piv

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// APDU is a command record scoped to a single exchange. Data is borrowed
// from the caller and must outlive the exchange; Reply is allocated and
// owned by the APDU itself once Exchange returns.
type APDU struct {
	Class byte
	Ins   byte
	P1    byte
	P2    byte
	// Data is the borrowed command-data slice; the caller's backing array
	// must remain valid for the duration of Exchange.
	Data []byte
	// Le, if WantReply is true, is the expected response length hint (0
	// means "as much as the card will give", the wildcard form).
	Le        byte
	WantReply bool

	Reply []byte
	SW    uint16
}

const maxShortChunk = 255

// frame builds the wire bytes for a single (unchained) APDU given a data
// chunk. It encodes Lc per §4.2: absent for L=0, one byte for L<=255,
// extended (00 + 2-byte big-endian) for L>255; Le is appended only when a
// reply is requested.
func frame(class, ins, p1, p2 byte, data []byte, wantReply bool, le byte, extended bool) []byte {
	var out []byte
	out = append(out, class, ins, p1, p2)
	l := len(data)
	switch {
	case l == 0:
		// no Lc
	case l <= 255 && !extended:
		out = append(out, byte(l))
		out = append(out, data...)
	default:
		out = append(out, 0x00, byte(l>>8), byte(l))
		out = append(out, data...)
	}
	if wantReply {
		if extended && l > 255 {
			out = append(out, 0x00, 0x00)
		} else {
			out = append(out, le)
		}
	}
	return out
}

// chunks splits data into pieces of at most maxShortChunk bytes for
// short-APDU command chaining (§4.2). A single chunk containing all of data
// is returned when it already fits.
func chunks(data []byte) [][]byte {
	if len(data) <= maxShortChunk {
		return [][]byte{data}
	}
	var out [][]byte
	for len(data) > 0 {
		n := maxShortChunk
		if n > len(data) {
			n = len(data)
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

// Exchange transmits a over card, performing command chaining for data
// longer than 255 bytes, GET RESPONSE reassembly for 0x61xx replies, and a
// single Le-correction retry for 0x6Cxx. The final status word and
// accumulated reply are stored on a itself and also returned.
func Exchange(card Card, log *slog.Logger, a *APDU) ([]byte, uint16, error) {
	if log == nil {
		log = slog.Default()
	}
	parts := chunks(a.Data)

	var reply []byte
	var sw uint16
	var err error

	for i, part := range parts {
		class := a.Class
		last := i == len(parts)-1
		if !last {
			class |= 0x10 // chain bit
		}
		wantReply := a.WantReply && last
		apduBytes := frame(class, a.Ins, a.P1, a.P2, part, wantReply || !last, a.Le, false)
		log.Debug("apdu send", "bytes", strings.ToUpper(hex.EncodeToString(apduBytes)))

		var data []byte
		data, sw, err = transceive(card, log, apduBytes)
		if err != nil {
			return nil, 0, err
		}
		log.Debug("apdu recv", "sw", fmt.Sprintf("%04X", sw), "len", len(data))

		if !last {
			if sw != swSuccess {
				return nil, sw, decodeStatus(a.Ins, sw)
			}
			continue
		}

		// 0x6Cxx: wrong Le, retry once with the corrected value.
		if sw&swWrongLeMask == swWrongLeValue {
			a.Le = byte(sw & 0xFF)
			retryBytes := frame(class, a.Ins, a.P1, a.P2, part, true, a.Le, false)
			data, sw, err = transceive(card, log, retryBytes)
			if err != nil {
				return nil, 0, err
			}
		}

		reply = append(reply, data...)

		// 0x61xx: more data available via GET RESPONSE.
		for sw&swMoreDataMask == swMoreDataValue {
			le := byte(sw & 0xFF)
			grBytes := frame(0x00, insGetResponse, 0x00, 0x00, nil, true, le, false)
			data, sw, err = transceive(card, log, grBytes)
			if err != nil {
				return nil, 0, err
			}
			reply = append(reply, data...)
		}
	}

	a.Reply = reply
	a.SW = sw
	if sw != swSuccess {
		return reply, sw, decodeStatus(a.Ins, sw)
	}
	return reply, sw, nil
}

// decodeStatus classifies a non-success status word per §4.2/§7. 0x9000 is
// success and never reaches here.
func decodeStatus(ins byte, sw uint16) error {
	switch {
	case sw == swSecurityNotSatisfied || sw == swAuthBlocked:
		return swErr(KindPermission, "security status not satisfied", sw)
	case sw == swNotFound:
		return swErr(KindNotFound, "object not found", sw)
	case sw == swFuncNotSupported:
		return swErr(KindNotSupported, "function not supported", sw)
	case sw == swOutOfMemory:
		return swErr(KindDeviceOutOfMemory, "card out of memory", sw)
	case sw&swPINWrongMask == swPINWrongValue:
		retries := int(sw & 0x0F)
		return &Error{Kind: KindPermission, Message: "PIN/PUK verification failed", SW: sw, Retries: retries}
	default:
		return swErr(KindAPDU, fmt.Sprintf("command 0x%02X failed", ins), sw)
	}
}

// selectApplet issues SELECT on the PIV AID.
func selectApplet(card Card, log *slog.Logger) error {
	a := &APDU{Class: 0x00, Ins: insSelect, P1: 0x04, P2: 0x00, Data: pivAID, WantReply: true, Le: 0x00}
	_, _, err := Exchange(card, log, a)
	return err
}

// getData issues GET DATA for a BER-TLV encoded object tag and unwraps the
// 0x53 envelope PIV wraps every data object in.
func getData(card Card, log *slog.Logger, tag uint32) ([]byte, error) {
	tb := NewBuffer()
	tb.WriteTLV(0x5C, tagBytes(tag))
	a := &APDU{Class: 0x00, Ins: insGetData, P1: 0x3F, P2: 0xFF, Data: tb.Bytes(), WantReply: true, Le: 0x00}
	reply, _, err := Exchange(card, log, a)
	if err != nil {
		return nil, err
	}
	r := NewReader(reply)
	gotTag, value, err := r.ReadTLV()
	if err != nil {
		return nil, err
	}
	if gotTag != 0x53 {
		return nil, newErr(KindInvalidData, fmt.Sprintf("GET DATA: expected tag 0x53, got 0x%X", gotTag))
	}
	return value, nil
}

// putData issues PUT DATA with the data object wrapped in a 0x53 envelope.
func putData(card Card, log *slog.Logger, tag uint32, value []byte) error {
	tb := NewBuffer()
	tb.WriteTLV(0x5C, tagBytes(tag))
	tb.WriteTLV(0x53, value)
	a := &APDU{Class: 0x00, Ins: insPutData, P1: 0x3F, P2: 0xFF, Data: tb.Bytes(), WantReply: true, Le: 0x00}
	_, _, err := Exchange(card, log, a)
	return err
}

func tagBytes(tag uint32) []byte {
	switch {
	case tag <= 0xFF:
		return []byte{byte(tag)}
	case tag <= 0xFFFF:
		return []byte{byte(tag >> 8), byte(tag)}
	default:
		return []byte{byte(tag >> 16), byte(tag >> 8), byte(tag)}
	}
}
