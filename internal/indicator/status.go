package indicator

import (
	"sync"
	"time"
)

// Event is one published recording-status change.
type Event struct {
	Seq            uint64    `json:"seq"`
	Recording      bool      `json:"recording"`
	Text           string    `json:"text"`
	Error          string    `json:"error,omitempty"`
	InterviewEnded bool      `json:"interview_ended,omitempty"`
	At             time.Time `json:"at"`
}

// Texts are the status lines shown for each recording state.
type Texts struct {
	Recording string
	Idle      string
}

// Status is the process-wide recording status observable. Publishing never
// blocks: a slow subscriber loses its oldest undelivered events.
type Status struct {
	texts Texts
	now   func() time.Time

	mu      sync.Mutex
	current Event
	subs    map[int]chan Event
	nextSub int
}

// NewStatus returns an idle status.
func NewStatus(texts Texts) *Status {
	s := &Status{texts: texts, now: time.Now, subs: map[int]chan Event{}}
	s.current = Event{Text: texts.Idle, At: s.now()}
	return s
}

// Set publishes a recording state change. Repeating the current state only
// refreshes the text, clearing any error.
func (s *Status) Set(recording bool) {
	s.publish(func(e *Event) {
		e.Recording = recording
		e.Error = ""
		e.InterviewEnded = false
		e.Text = s.texts.Idle
		if recording {
			e.Text = s.texts.Recording
		}
	})
}

// Fail publishes a user-visible error; the recording flag is left as is.
func (s *Status) Fail(message string) {
	s.publish(func(e *Event) {
		e.Error = message
	})
}

// End publishes that the backend closed the interview.
func (s *Status) End() {
	s.publish(func(e *Event) {
		e.Recording = false
		e.Text = s.texts.Idle
		e.InterviewEnded = true
	})
}

// Recording reports the current recording flag.
func (s *Status) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Recording
}

// Current returns the latest event.
func (s *Status) Current() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe returns a channel that first receives the current event and then
// every later change. The cancel func closes the channel.
func (s *Status) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.current
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Status) publish(mutate func(*Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	mutate(&next)
	next.Seq++
	next.At = s.now()
	s.current = next

	for _, ch := range s.subs {
		deliver(ch, next)
	}
}

func deliver(ch chan Event, e Event) {
	for {
		select {
		case ch <- e:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
