package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type failingSink struct{ err error }

func (f failingSink) Send(context.Context, Event) error { return f.err }

func TestMemoryFiltersByRun(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	_ = m.Send(ctx, Event{Type: EventLaunch, OccurredAt: now, Record: Record{RunID: "a"}})
	_ = m.Send(ctx, Event{Type: EventLaunch, OccurredAt: now, Record: Record{RunID: "b"}})
	_ = m.Send(ctx, Event{Type: EventReady, OccurredAt: now, Record: Record{RunID: "a"}})

	assert.Equal(t, []EventType{EventLaunch, EventReady}, m.Types("a"))
	assert.Len(t, m.Events(""), 3)
	assert.Empty(t, m.Events("missing"))
}

func TestMultiDeliversToAllAndReturnsFirstError(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	boom := errors.New("boom")
	ms := Multi{a, failingSink{err: boom}, nil, b}

	err := ms.Send(context.Background(), Event{Type: EventExit, Record: Record{RunID: "r"}})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.Events("r"), 1)
	assert.Len(t, b.Events("r"), 1)
}
