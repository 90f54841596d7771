package diag

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecorder_RecordsInOrder(t *testing.T) {
	r := NewRecorder(nil)
	r.Info(StageConnect, "connected", nil)
	r.Warn(StageScan, "chunk skipped", map[string]string{"from_block": "10"})
	r.Error(StageDescriptor, "fetch failed", nil)

	events := r.Events()
	require.Len(t, events, 3)
	assert.Equal(t, SeverityInfo, events[0].Severity)
	assert.Equal(t, SeverityWarning, events[1].Severity)
	assert.Equal(t, SeverityError, events[2].Severity)
	assert.Equal(t, "10", events[1].Fields["from_block"])
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Time.IsZero())
}

func TestRecorder_EventsReturnsCopy(t *testing.T) {
	r := NewRecorder(nil)
	r.Info(StageConnect, "one", nil)

	events := r.Events()
	events[0].Message = "mutated"
	assert.Equal(t, "one", r.Events()[0].Message)
}

func TestRecorder_ConcurrentRecords(t *testing.T) {
	r := NewRecorder(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Warn(StageResolve, "estimated", nil)
		}()
	}
	wg.Wait()

	assert.Len(t, r.Events(), 50)
}

func TestBus_DeliversToStageSubscriber(t *testing.T) {
	bus := NewBus(zap.NewNop(), 16)
	defer bus.Close()

	received := make(chan Event, 1)
	bus.Subscribe(StageScan, func(event Event) {
		received <- event
	})

	r := NewRecorder(bus)
	r.Warn(StageScan, "chunk skipped", nil)

	select {
	case event := <-received:
		assert.Equal(t, StageScan, event.Stage)
		assert.Equal(t, "chunk skipped", event.Message)
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestBus_WildcardSubscriberSeesEveryStage(t *testing.T) {
	bus := NewBus(zap.NewNop(), 16)
	defer bus.Close()

	var mu sync.Mutex
	var stages []Stage
	done := make(chan struct{}, 2)
	bus.Subscribe(StageAny, func(event Event) {
		mu.Lock()
		stages = append(stages, event.Stage)
		mu.Unlock()
		done <- struct{}{}
	})

	require.NoError(t, bus.Publish(Event{Stage: StageConnect}))
	require.NoError(t, bus.Publish(Event{Stage: StageAggregate}))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("event was not delivered")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Stage{StageConnect, StageAggregate}, stages)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(zap.NewNop(), 16)

	received := make(chan Event, 4)
	sub := bus.Subscribe(StageScan, func(event Event) {
		received <- event
	})
	sub.Unsubscribe()

	require.NoError(t, bus.Publish(Event{Stage: StageScan}))
	bus.Close()

	select {
	case <-received:
		t.Fatal("unsubscribed handler still invoked")
	default:
	}
}
