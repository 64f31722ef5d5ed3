package progress

import (
	"testing"
	"time"

	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
)

func newTestBroker() *Broker {
	return NewBroker(common.GetLogger())
}

func recvEvent(t *testing.T, ch <-chan interfaces.BrokerEvent) interfaces.BrokerEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed while expecting an event")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return interfaces.BrokerEvent{}
}

func TestBroker_PublishFanout(t *testing.T) {
	b := newTestBroker()
	ch1, cancel1 := b.Subscribe("job-1")
	ch2, cancel2 := b.Subscribe("job-1")
	defer cancel1()
	defer cancel2()

	b.Publish("job-1", &models.JobProgress{Stage: "chunking", Percent: 10})

	for _, ch := range []<-chan interfaces.BrokerEvent{ch1, ch2} {
		ev := recvEvent(t, ch)
		if ev.Name != "progress" || ev.Progress.Percent != 10 {
			t.Errorf("unexpected event: %+v", ev)
		}
	}
}

func TestBroker_LateSubscriberGetsLatest(t *testing.T) {
	b := newTestBroker()
	b.Publish("job-1", &models.JobProgress{Stage: "extract", Percent: 40})

	ch, cancel := b.Subscribe("job-1")
	defer cancel()

	ev := recvEvent(t, ch)
	if ev.Name != "progress" || ev.Progress.Percent != 40 {
		t.Errorf("late subscriber should replay the latest snapshot, got %+v", ev)
	}
}

func TestBroker_DropsOutOfOrderSnapshots(t *testing.T) {
	b := newTestBroker()
	b.Publish("job-1", &models.JobProgress{Stage: "embed", Percent: 60})
	b.Publish("job-1", &models.JobProgress{Stage: "embed", Percent: 30})

	if latest := b.Latest("job-1"); latest.Percent != 60 {
		t.Errorf("out-of-order snapshot must be dropped, latest is %d%%", latest.Percent)
	}

	// A new stage resets the monotonic comparison
	b.Publish("job-1", &models.JobProgress{Stage: "persist", Percent: 5})
	if latest := b.Latest("job-1"); latest.Stage != "persist" {
		t.Error("stage change must be accepted even with a lower percent")
	}
}

func TestBroker_TerminalClosesSubscribers(t *testing.T) {
	b := newTestBroker()
	ch, cancel := b.Subscribe("job-1")
	defer cancel()

	b.Terminal("job-1", models.JobStatusCompleted, &models.JobResult{Status: "success"}, "")

	ev := recvEvent(t, ch)
	if ev.Name != "completed" || ev.Status != models.JobStatusCompleted {
		t.Errorf("unexpected terminal event: %+v", ev)
	}
	if _, open := <-ch; open {
		t.Error("channel must close after the terminal event")
	}

	// Publishing after terminal is a no-op
	b.Publish("job-1", &models.JobProgress{Stage: "late", Percent: 99})
	if latest := b.Latest("job-1"); latest != nil {
		t.Error("post-terminal publish must be ignored")
	}
}

func TestBroker_SubscribeAfterTerminal(t *testing.T) {
	b := newTestBroker()
	b.Terminal("job-1", models.JobStatusFailed, nil, "provider quota exhausted")

	ch, cancel := b.Subscribe("job-1")
	defer cancel()

	ev := recvEvent(t, ch)
	if ev.Name != "failed" || ev.Error != "provider quota exhausted" {
		t.Errorf("expected replayed failure event, got %+v", ev)
	}
	if _, open := <-ch; open {
		t.Error("channel must be closed immediately for terminal jobs")
	}
}

func TestBroker_TerminalIdempotent(t *testing.T) {
	b := newTestBroker()
	b.Terminal("job-1", models.JobStatusCompleted, nil, "")
	// Second terminal must not panic or overwrite
	b.Terminal("job-1", models.JobStatusFailed, nil, "later failure")

	ch, cancel := b.Subscribe("job-1")
	defer cancel()
	ev := recvEvent(t, ch)
	if ev.Name != "completed" {
		t.Errorf("first terminal event wins, got %q", ev.Name)
	}
}

func TestBroker_CancelReleasesSubscription(t *testing.T) {
	b := newTestBroker()
	ch, cancel := b.Subscribe("job-1")
	cancel()

	if _, open := <-ch; open {
		t.Error("cancel must close the subscriber channel")
	}
	// Cancel twice is safe
	cancel()

	// Publishing after cancel must not panic
	b.Publish("job-1", &models.JobProgress{Stage: "chunking", Percent: 1})
}

func TestBroker_Forget(t *testing.T) {
	b := newTestBroker()
	b.Publish("job-1", &models.JobProgress{Stage: "chunking", Percent: 10})
	b.Forget("job-1")

	if b.Latest("job-1") != nil {
		t.Error("Forget must release snapshot state")
	}
}
