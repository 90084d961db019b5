package pipeline

import (
	"fmt"
	"sync"
)

// ConversationStore is the append-ordered message history. Entries are only
// ever appended or have their content replaced by id; nothing is reordered.
type ConversationStore struct {
	mu       sync.RWMutex
	messages []Message
	index    map[string]int // id -> position, stable because entries never move

	subMu sync.Mutex
	subs  map[int]chan struct{}
	nextS int
}

// NewConversationStore creates an empty store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		index: make(map[string]int),
		subs:  make(map[int]chan struct{}),
	}
}

// Append adds msg at the end of the history.
func (s *ConversationStore) Append(msg Message) error {
	if msg.ID == "" {
		return fmt.Errorf("append: empty message id")
	}

	s.mu.Lock()
	if _, exists := s.index[msg.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("append %s: %w", msg.ID, ErrDuplicateMessage)
	}
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg.clone())
	s.mu.Unlock()

	s.broadcast()
	return nil
}

// UpdateContent replaces the content of the message with the given id.
// Role, id, attachment and position are left untouched.
func (s *ConversationStore) UpdateContent(id, content string) error {
	s.mu.Lock()
	pos, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update %s: %w", id, ErrMessageNotFound)
	}
	s.messages[pos].Content = content
	s.mu.Unlock()

	s.broadcast()
	return nil
}

// Get returns a copy of the message with the given id.
func (s *ConversationStore) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return s.messages[pos].clone(), true
}

// Snapshot returns a consistent copy of the full history.
func (s *ConversationStore) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.clone()
	}
	return out
}

// Len returns the number of messages.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Subscribe returns a channel that receives a signal after every mutation.
// Signals coalesce: a slow reader sees at most one pending signal and should
// read a fresh Snapshot on wake. The cancel func closes the channel.
func (s *ConversationStore) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.subMu.Lock()
	id := s.nextS
	s.nextS++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *ConversationStore) broadcast() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
