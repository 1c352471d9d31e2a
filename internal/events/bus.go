package events

import (
	"sync"
	"time"

	"voxlate/internal/models"
)

// DefaultMaxEvents bounds the in-memory history.
const DefaultMaxEvents = 500

// subscriberBuffer is the channel capacity for each subscriber. Events that
// do not fit are dropped for that subscriber; Since can fill the gap.
const subscriberBuffer = 32

// Event is a sequenced snapshot of a job change.
type Event struct {
	Seq       int64         `json:"seq"`
	Timestamp time.Time     `json:"timestamp"`
	JobID     string        `json:"job_id"`
	Status    models.Status `json:"status"`
	Progress  int           `json:"progress"`
	Step      string        `json:"step,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// FromJob builds an event from the persisted state of a job.
func FromJob(job *models.TranslationJob) Event {
	return Event{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Step:     job.CurrentStep,
		Error:    job.ErrorMessage,
	}
}

// Publisher accepts job events.
type Publisher interface {
	Publish(event Event) Event
}

type subscriber struct {
	jobID string
	ch    chan Event
}

// Bus stores recent events and fans them out to live subscribers.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event

	nextSub int
	subs    map[int]*subscriber
}

var _ Publisher = (*Bus)(nil)

// NewBus creates a bounded in-memory event buffer.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      make(map[int]*subscriber),
	}
}

// Publish appends one event, assigns sequence and timestamp, and delivers
// it to matching subscribers without blocking.
func (b *Bus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for _, s := range b.subs {
		if s.jobID != "" && s.jobID != event.JobID {
			continue
		}
		select {
		case s.ch <- event:
		default:
		}
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	return b.SinceJob("", seq)
}

// SinceJob is Since restricted to one job. An empty jobID matches all jobs.
func (b *Bus) SinceJob(jobID string, seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq <= seq {
			continue
		}
		if jobID != "" && event.JobID != jobID {
			continue
		}
		out = append(out, event)
	}
	return out
}

// Subscribe registers a live listener for one job (or all jobs when jobID
// is empty). The returned func unregisters it and closes the channel.
func (b *Bus) Subscribe(jobID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	s := &subscriber{jobID: jobID, ch: make(chan Event, subscriberBuffer)}
	b.subs[id] = s

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}
