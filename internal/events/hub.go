// Package events fans job state updates out to live subscribers. Delivery
// is conflating: each subscriber holds at most one pending update, and a
// newer update replaces an undelivered older one. Consumers are guaranteed
// to observe the latest state, not every intermediate state.
package events

import (
	"sync"
	"time"

	"github.com/valpere/turjuman/internal/domain"
)

// ChunkState is the per-chunk slice of an update, kept small so frequent
// publishes stay cheap to copy.
type ChunkState struct {
	Index  int                `json:"index"`
	Status domain.ChunkStatus `json:"status"`
}

// Update is one observed job state. Seq increases per job; a consumer that
// sees Seq go backward is mixing streams.
type Update struct {
	Seq       uint64             `json:"seq"`
	Timestamp time.Time          `json:"timestamp"`
	JobID     string             `json:"job_id"`
	Status    domain.JobStatus   `json:"status"`
	Step      domain.Step        `json:"current_step"`
	Progress  float64            `json:"progress_percent"`
	ErrorInfo string             `json:"error_info,omitempty"`
	Chunks    []ChunkState       `json:"chunks,omitempty"`
	Final     bool               `json:"final"`
}

// Subscription is one consumer's view of a job's updates. C is closed when
// the job reaches a terminal state or the subscription is closed.
type Subscription struct {
	C <-chan Update

	hub   *Hub
	jobID string
	ch    chan Update
	once  sync.Once
}

// Close detaches the subscription. Safe to call more than once and safe
// concurrently with hub publishes. The hub lock is taken before the once
// so Close cannot deadlock against Finish closing the same channel.
func (s *Subscription) Close() {
	s.hub.remove(s.jobID, s)
	s.once.Do(func() { close(s.ch) })
}

type topic struct {
	seq  uint64
	subs map[*Subscription]struct{}
}

// Hub routes updates by job ID.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]*topic)}
}

// Subscribe attaches a consumer to a job's update stream. A finished
// job's stream stays silent for new subscribers: callers read terminal
// state from the store before subscribing.
func (h *Hub) Subscribe(jobID string) *Subscription {
	sub := &Subscription{hub: h, jobID: jobID, ch: make(chan Update, 1)}
	sub.C = sub.ch

	h.mu.Lock()
	t, ok := h.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		h.topics[jobID] = t
	}
	t.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Publish delivers an update to every subscriber of the job. A subscriber
// with an undelivered update has it replaced rather than queued; Publish
// never blocks on a slow consumer.
func (h *Hub) Publish(jobID string, u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[jobID]
	if !ok {
		return
	}
	t.seq++
	u.Seq = t.seq
	u.JobID = jobID
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}
	for sub := range t.subs {
		send(sub.ch, u)
	}
}

// Finish delivers the terminal update and ends the stream: subscriber
// channels close after the final update, and the topic is torn down.
func (h *Hub) Finish(jobID string, u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[jobID]
	if !ok {
		return
	}
	t.seq++
	u.Seq = t.seq
	u.JobID = jobID
	u.Final = true
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}
	for sub := range t.subs {
		send(sub.ch, u)
		sub.once.Do(func() { close(sub.ch) })
	}
	delete(h.topics, jobID)
}

// Drop tears a stream down without a final update, used when a job is
// deleted mid-flight.
func (h *Hub) Drop(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[jobID]
	if !ok {
		return
	}
	for sub := range t.subs {
		sub.once.Do(func() { close(sub.ch) })
	}
	delete(h.topics, jobID)
}

func (h *Hub) remove(jobID string, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[jobID]; ok {
		delete(t.subs, sub)
		// The last subscriber leaving reclaims the topic, so streams
		// opened for unknown job IDs do not accumulate.
		if len(t.subs) == 0 {
			delete(h.topics, jobID)
		}
	}
}

// send conflates: when the mailbox is full the stale update is dropped and
// the new one takes its place.
func send(ch chan Update, u Update) {
	for {
		select {
		case ch <- u:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
