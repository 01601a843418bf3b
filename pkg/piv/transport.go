package piv

import (
	"log/slog"
	"strings"
)

// Card abstracts card transmit behavior for real PC/SC readers and test
// doubles.
type Card interface {
	Transmit(apdu []byte) ([]byte, error)
}

// Resettable is implemented by Card adapters that can recover from a
// host-level "reset by peer" indication (card removed and reinserted) by
// reconnecting. PCSCTransport implements this; test doubles need not.
type Resettable interface {
	Reconnect() error
}

// transceive sends one APDU and splits the reply into data and status word.
// On a Resettable card reporting a reset condition it reconnects once and
// retries the same bytes, per §4.3; every other transmit error is an IO error.
func transceive(card Card, log *slog.Logger, apdu []byte) ([]byte, uint16, error) {
	resp, err := card.Transmit(apdu)
	if err != nil {
		if isResetCondition(err) {
			if r, ok := card.(Resettable); ok {
				log.Warn("card reset detected, reconnecting", "error", err)
				if rerr := r.Reconnect(); rerr == nil {
					resp, err = card.Transmit(apdu)
				}
			}
		}
		if err != nil {
			return nil, 0, wrapErr(KindIO, "transmit failed", err)
		}
	}
	if len(resp) < 2 {
		return nil, 0, newErr(KindIO, "short response from card")
	}
	sw := uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
	return resp[:len(resp)-2], sw, nil
}

// isResetCondition reports whether err looks like a PC/SC "card reset" /
// "card removed" indication. The check is string-based and is applied to
// every Card implementation's errors, PCSCTransport's included.
func isResetCondition(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsFold(msg, "reset") || containsFold(msg, "removed") || containsFold(msg, "no smartcard")
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
