package bus

import (
	"context"
	"testing"

	"github.com/regardsoss/dataprovider/internal/realtime"
)

func TestMemoryBusDeliversInOrder(t *testing.T) {
	b := NewMemoryBus()
	var got []realtime.Event
	if err := b.StartForwarder(context.Background(), func(m realtime.Message) { got = append(got, m.Event) }); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}
	_ = b.Publish(context.Background(), realtime.Message{Channel: "c", Event: realtime.EventChainStarted})
	_ = b.Publish(context.Background(), realtime.Message{Channel: "c", Event: realtime.EventChainFinished})
	if len(got) != 2 || got[0] != realtime.EventChainStarted || got[1] != realtime.EventChainFinished {
		t.Fatalf("unexpected delivery: %v", got)
	}
	_ = b.Close()
	_ = b.Publish(context.Background(), realtime.Message{Channel: "c", Event: realtime.EventJobDone})
	if len(got) != 2 {
		t.Fatalf("delivery after close: %v", got)
	}
}
