// -----------------------------------------------------------------------
// Progress broker - single-writer / multi-reader fan-out of job progress
// snapshots to SSE subscribers
// -----------------------------------------------------------------------

package progress

import (
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
)

const subscriberBuffer = 32

type subscriber struct {
	ch chan interfaces.BrokerEvent
}

type jobState struct {
	latest      *models.JobProgress
	terminal    *interfaces.BrokerEvent
	subscribers map[*subscriber]struct{}
}

// Broker holds the last-emitted snapshot per job and fans changes out to
// subscribers. The worker owning the job is the single writer; snapshots
// are replaced atomically and late out-of-order snapshots are dropped.
type Broker struct {
	mu     sync.RWMutex
	jobs   map[string]*jobState
	logger arbor.ILogger
}

// NewBroker creates a new progress broker
func NewBroker(logger arbor.ILogger) *Broker {
	return &Broker{
		jobs:   make(map[string]*jobState),
		logger: logger,
	}
}

func (b *Broker) state(jobID string) *jobState {
	st, ok := b.jobs[jobID]
	if !ok {
		st = &jobState{subscribers: make(map[*subscriber]struct{})}
		b.jobs[jobID] = st
	}
	return st
}

// Publish replaces the job's snapshot and notifies subscribers. Snapshots
// that move backwards within the same stage are dropped to keep the
// observed sequence monotonic.
func (b *Broker) Publish(jobID string, snapshot *models.JobProgress) {
	if snapshot == nil {
		return
	}

	b.mu.Lock()
	st := b.state(jobID)
	if st.terminal != nil {
		b.mu.Unlock()
		return
	}
	if prev := st.latest; prev != nil && prev.Stage == snapshot.Stage {
		if snapshot.Percent < prev.Percent || snapshot.ChunksProcessed < prev.ChunksProcessed {
			b.mu.Unlock()
			b.logger.Trace().Str("job_id", jobID).Msg("Dropped out-of-order progress snapshot")
			return
		}
	}
	st.latest = snapshot
	subs := make([]*subscriber, 0, len(st.subscribers))
	for s := range st.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	event := interfaces.BrokerEvent{Name: "progress", Progress: snapshot}
	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
			// Slow subscriber: drop rather than block the worker. The
			// latest snapshot is still available via Latest.
		}
	}
}

// Terminal publishes the job's terminal event and closes all subscriber
// channels. Subsequent Publish calls for the job are ignored.
func (b *Broker) Terminal(jobID string, status models.JobStatus, result *models.JobResult, jobErr string) {
	name := "completed"
	switch status {
	case models.JobStatusFailed:
		name = "failed"
	case models.JobStatusCancelled:
		name = "failed"
	}

	event := interfaces.BrokerEvent{
		Name:   name,
		Status: status,
		Result: result,
		Error:  jobErr,
	}

	b.mu.Lock()
	st := b.state(jobID)
	if st.terminal != nil {
		b.mu.Unlock()
		return
	}
	st.terminal = &event
	subs := make([]*subscriber, 0, len(st.subscribers))
	for s := range st.subscribers {
		subs = append(subs, s)
	}
	st.subscribers = make(map[*subscriber]struct{})
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
		}
		close(s.ch)
	}
}

// Subscribe registers a reader for the job's events. If the job already
// reached a terminal state, the terminal event is delivered immediately and
// the channel closed. The returned cancel func releases the subscription.
func (b *Broker) Subscribe(jobID string) (<-chan interfaces.BrokerEvent, func()) {
	sub := &subscriber{ch: make(chan interfaces.BrokerEvent, subscriberBuffer)}

	b.mu.Lock()
	st := b.state(jobID)
	if st.terminal != nil {
		terminal := *st.terminal
		b.mu.Unlock()
		sub.ch <- terminal
		close(sub.ch)
		return sub.ch, func() {}
	}
	if st.latest != nil {
		sub.ch <- interfaces.BrokerEvent{Name: "progress", Progress: st.latest}
	}
	st.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		st, ok := b.jobs[jobID]
		if !ok {
			return
		}
		if _, live := st.subscribers[sub]; live {
			delete(st.subscribers, sub)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Latest returns the last snapshot for the job, nil when none published.
func (b *Broker) Latest(jobID string) *models.JobProgress {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if st, ok := b.jobs[jobID]; ok {
		return st.latest
	}
	return nil
}

// Forget releases broker state for a job; called by the retention sweep
// after terminal jobs are archived.
func (b *Broker) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.jobs[jobID]; ok {
		for s := range st.subscribers {
			close(s.ch)
		}
		delete(b.jobs, jobID)
	}
}

// Compile-time interface check
var _ interfaces.ProgressBroker = (*Broker)(nil)
