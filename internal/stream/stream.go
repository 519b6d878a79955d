package stream

import (
	"context"
	"sync"
	"time"

	"buddypay.org/internal/ledger"
)

// Event types.
const (
	TypeCommitted = "transaction.committed"
	TypeCanceled  = "transaction.canceled"
)

// TransferEvent describes a committed or canceled transfer.
type TransferEvent struct {
	Type          string    `json:"type"`
	TransactionID string    `json:"transaction_id"`
	SenderID      string    `json:"sender_id"`
	ReceiverID    string    `json:"receiver_id"`
	Amount        int64     `json:"amount"`
	Fee           int64     `json:"fee"`
	Timestamp     time.Time `json:"timestamp"`
}

type subscriber struct {
	userID string
	ch     chan TransferEvent
}

// Stream fan-outs transfer events to active subscribers (SSE clients).
// It is registered on the engine as a ledger.Observer.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
	now  func() time.Time
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{
		subs: make(map[int]subscriber),
		now:  time.Now,
	}
}

// Subscribe registers a subscriber and returns a channel which will receive
// the events where userID is the sender or the receiver. An empty userID
// receives every event. The channel is closed when ctx ends.
func (s *Stream) Subscribe(ctx context.Context, userID string) <-chan TransferEvent {
	ch := make(chan TransferEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{userID: userID, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Subscribers returns the number of active subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Publish fan-outs the event to interested subscribers.
func (s *Stream) Publish(evt TransferEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.userID != "" && sub.userID != evt.SenderID && sub.userID != evt.ReceiverID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

func (s *Stream) TransactionCommitted(tx ledger.Transaction) {
	s.Publish(s.event(TypeCommitted, tx))
}

func (s *Stream) TransactionCanceled(tx ledger.Transaction) {
	s.Publish(s.event(TypeCanceled, tx))
}

func (s *Stream) TransactionRejected(error) {}

func (s *Stream) event(typ string, tx ledger.Transaction) TransferEvent {
	return TransferEvent{
		Type:          typ,
		TransactionID: tx.ID,
		SenderID:      tx.SenderID,
		ReceiverID:    tx.ReceiverID,
		Amount:        tx.Amount,
		Fee:           tx.Fee(),
		Timestamp:     s.now().UTC(),
	}
}
