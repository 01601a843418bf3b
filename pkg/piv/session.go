package piv

import "log/slog"

// Transaction is the unit of exclusive card access (§5). txn_begin locks the
// reader; txn_end unlocks. Transactions are strictly non-reentrant: Begin
// returns an error if one is already open on this Token. The depth counter
// exists purely for diagnostics (how many Begin/End cycles this token has
// seen), not to permit nesting.
type Transaction struct {
	token *Token
}

// beginner is implemented by transports that support exclusive reader
// access. PCSCTransport implements it; in-memory test doubles may not, in
// which case transactions are a no-op beyond the in-process guard.
type beginner interface {
	BeginTransaction() error
	EndTransaction() error
}

// Begin opens an exclusive transaction on t. It is an error to call Begin
// again before the returned Transaction's End.
func (t *Token) Begin() (*Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inTxn {
		return nil, newErr(KindArgument, "transaction already open on this token")
	}
	if b, ok := t.card.(beginner); ok {
		if err := b.BeginTransaction(); err != nil {
			return nil, err
		}
	}
	t.inTxn = true
	t.txnDepth++
	return &Transaction{token: t}, nil
}

// End releases the transaction. PIN and administrative-authentication state
// is scoped to the transaction and is considered gone once End returns;
// applet selection is left as-is since most cards retain it, and
// ensureSelected does not SELECT again until the selection is invalidated.
func (tx *Transaction) End() error {
	t := tx.token
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.inTxn {
		return nil
	}
	t.inTxn = false
	t.pinVerified = false
	t.adminAuthed = false
	if b, ok := t.card.(beginner); ok {
		return b.EndTransaction()
	}
	return nil
}

// ensureSelected issues SELECT on the PIV AID if the token's "selected
// applet" sentinel says it hasn't been (or may no longer be) selected. It is
// called transparently before every protocol-engine operation.
func (t *Token) ensureSelected() error {
	if t.selected {
		return nil
	}
	if err := selectApplet(t.card, t.log); err != nil {
		return err
	}
	t.selected = true
	return nil
}

// invalidateSelection forces the next command to re-SELECT the applet. Used
// after a transport-level reconnect, which power-cycles the card.
func (t *Token) invalidateSelection() { t.selected = false }

func (t *Token) requireTransaction() error {
	if !t.inTxn {
		return newErr(KindArgument, "operation requires an open transaction")
	}
	return nil
}

func (t *Token) logger() *slog.Logger {
	if t.log != nil {
		return t.log
	}
	return slog.Default()
}
