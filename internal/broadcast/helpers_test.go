package broadcast_test

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jensholdgaard/draft-auction/internal/event"
)

const testScope = "ipl-2026"

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func ev(scope string, seq int64, typ event.Type) event.Event {
	return event.Event{
		ID:       fmt.Sprintf("%s-%d", scope, seq),
		Scope:    scope,
		Sequence: seq,
		Type:     typ,
		Data:     []byte(`{}`),
	}
}

// receive reads one event from c or fails after a second.
func receive(t *testing.T, c <-chan event.Event) (event.Event, bool) {
	t.Helper()
	select {
	case e, ok := <-c:
		return e, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return event.Event{}, false
	}
}
