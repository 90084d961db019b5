package pipeline

import "sync"

// TurnState is the per-turn orchestration state.
type TurnState int

const (
	TurnComposing TurnState = iota
	TurnSending
	TurnStreaming
	TurnSettled
)

func (s TurnState) String() string {
	switch s {
	case TurnComposing:
		return "composing"
	case TurnSending:
		return "sending"
	case TurnStreaming:
		return "streaming"
	case TurnSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Turn tracks one send from acceptance to settlement. A settled turn never
// changes again; a new send always gets a new Turn.
type Turn struct {
	ID string

	mu          sync.Mutex
	state       TurnState
	err         error
	userID      string
	assistantID string
	done        chan struct{}
}

func newTurn(id string) *Turn {
	return &Turn{
		ID:    id,
		state: TurnComposing,
		done:  make(chan struct{}),
	}
}

// State returns the current state.
func (t *Turn) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed when the turn settles.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Err returns the failure that settled the turn, if any. It is only
// meaningful after Done is closed.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// UserMessageID returns the id of the appended user message, or "".
func (t *Turn) UserMessageID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userID
}

// AssistantMessageID returns the id reserved for the streaming reply, or "".
func (t *Turn) AssistantMessageID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.assistantID
}

func (t *Turn) advance(to TurnState) {
	t.mu.Lock()
	if t.state != TurnSettled && to > t.state {
		t.state = to
	}
	t.mu.Unlock()
}

func (t *Turn) setUser(id string) {
	t.mu.Lock()
	t.userID = id
	t.mu.Unlock()
}

func (t *Turn) setAssistant(id string) {
	t.mu.Lock()
	t.assistantID = id
	t.state = TurnStreaming
	t.mu.Unlock()
}

func (t *Turn) settle(err error) {
	t.mu.Lock()
	if t.state == TurnSettled {
		t.mu.Unlock()
		return
	}
	t.state = TurnSettled
	t.err = err
	t.mu.Unlock()
	close(t.done)
}
