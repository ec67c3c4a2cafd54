package ua

import (
	"context"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipcore/internal/syncutil"
)

// TransactionTable stores live transactions and matches inbound messages to them.
// Transactions are removed automatically once disposed.
// The zero value is ready to use.
type TransactionTable struct {
	srv syncutil.RWMap[string, *ServerTransaction]
	cln syncutil.RWMap[string, *ClientTransaction]
}

// Add stores the transaction.
// It returns [ErrTransactionExists] if a transaction with the same key is already stored.
func (t *TransactionTable) Add(tx Transaction) error {
	switch tx := tx.(type) {
	case *ServerTransaction:
		return errtrace.Wrap(addTransaction(&t.srv, tx.Key().String(), tx))
	case *ClientTransaction:
		return errtrace.Wrap(addTransaction(&t.cln, tx.Key().String(), tx))
	default:
		return errtrace.Wrap(NewInvalidArgumentError("unsupported transaction type %T", tx))
	}
}

func addTransaction[T Transaction](m *syncutil.RWMap[string, T], key string, tx T) error {
	if tx.IsDisposed() {
		return errtrace.Wrap(ErrDisposed)
	}
	if _, loaded := m.GetOrSet(key, tx); loaded {
		return errtrace.Wrap(ErrTransactionExists)
	}

	remove := func() {
		m.DelFunc(key, func(v T) bool { return Transaction(v) == Transaction(tx) })
	}
	tx.OnDisposed(func(_ context.Context, _ Transaction) { remove() })
	if tx.IsDisposed() {
		remove()
	}
	return nil
}

// Get returns the transaction stored under the key.
func (t *TransactionTable) Get(key TransactionKey) (Transaction, bool) {
	if key.Server {
		if tx, ok := t.srv.Get(key.String()); ok {
			return tx, true
		}
		return nil, false
	}
	if tx, ok := t.cln.Get(key.String()); ok {
		return tx, true
	}
	return nil, false
}

// MatchRequest returns the server transaction the inbound request belongs to.
// An ACK is matched to the INVITE transaction with the same key.
func (t *TransactionTable) MatchRequest(req *sip.Request) (*ServerTransaction, bool) {
	var key TransactionKey
	if err := key.FillFromRequest(req, true); err != nil {
		return nil, false
	}
	return t.srv.Get(key.String())
}

// MatchResponse returns the client transaction the inbound response belongs to.
func (t *TransactionTable) MatchResponse(res *sip.Response) (*ClientTransaction, bool) {
	var key TransactionKey
	if err := key.FillFromResponse(res); err != nil {
		return nil, false
	}
	return t.cln.Get(key.String())
}

// Len returns the number of stored transactions.
func (t *TransactionTable) Len() int {
	return t.srv.Len() + t.cln.Len()
}
