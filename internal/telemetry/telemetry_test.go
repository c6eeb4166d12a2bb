package telemetry

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

// syncBuffer is a bytes.Buffer safe for the exporters' goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeBus struct{}

func (fakeBus) QueueDepth() int      { return 3 }
func (fakeBus) QueueCapacity() int   { return 10 }
func (fakeBus) DroppedEvents() int64 { return 1 }

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(Config{Enabled: false})
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error: %v", err)
	}
}

func TestSetup_ExportsSpansAndBusGauges(t *testing.T) {
	out := &syncBuffer{}
	shutdown, err := Setup(Config{
		Enabled:        true,
		ServiceName:    "complyflow-test",
		MetricInterval: time.Hour,
		Output:         out,
	})
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}

	if err := ObserveBus(otel.Meter("test"), fakeBus{}); err != nil {
		t.Fatalf("ObserveBus() error: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "RuleEngine.OnEvent")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error: %v", err)
	}
	got := out.String()
	for _, want := range []string{"RuleEngine.OnEvent", "complyflow.bus.queue_depth", "complyflow-test"} {
		if !strings.Contains(got, want) {
			t.Errorf("exported output missing %q", want)
		}
	}
}
