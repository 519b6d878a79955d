package ledger

// Observer is notified after a unit of work commits. Implementations must not block.
type Observer interface {
	TransactionCommitted(tx Transaction)
	TransactionCanceled(tx Transaction)
	TransactionRejected(reason error)
}

func (s settings) committed(tx Transaction) {
	for _, o := range s.observers {
		o.TransactionCommitted(tx)
	}
}

func (s settings) canceled(tx Transaction) {
	for _, o := range s.observers {
		o.TransactionCanceled(tx)
	}
}

func (s settings) rejected(err error) {
	for _, o := range s.observers {
		o.TransactionRejected(err)
	}
}
