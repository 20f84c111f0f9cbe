package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/diligence-platform/core/pkg/models"
)

// WriteSSE streams catchup followed by live events for scanID to w,
// flushing after every event, until the subscriber's channel closes or
// ctx is canceled (client disconnect). flush is called after each write
// when the caller's writer supports it (e.g. gin's http.Flusher).
func (b *Broker) WriteSSE(ctx context.Context, w io.Writer, flush func(), scanID string, lastSeq int64) error {
	id, ch, catchup := b.Subscribe(scanID, lastSeq)
	defer b.Unsubscribe(scanID, id)

	for _, ev := range catchup {
		if err := writeSSEEvent(w, ev); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := writeSSEEvent(w, ev); err != nil {
				return err
			}
			if flush != nil {
				flush()
			}
		}
	}
}

func writeSSEEvent(w io.Writer, ev models.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", ev.Sequence, data)
	return err
}
