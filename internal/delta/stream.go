package delta

import (
	"context"
	"time"
)

// LongPoll behaves like Poll but, when nothing is new, sleeps and re-polls
// until timeout elapses. No transaction or session is held across the waits.
// A timed-out long-poll is success: an empty page with an unchanged cursor.
func (r *Reader) LongPoll(ctx context.Context, ns *Namespace, cursor string, limit int, filters Filters, timeout time.Duration) (Page, error) {
	deadline := time.Now().Add(timeout)
	for {
		page, err := r.Poll(ctx, ns, cursor, limit, filters)
		if err != nil {
			return Page{}, err
		}
		if len(page.Deltas) > 0 {
			return page, nil
		}
		// A fully-vanished window still advanced the cursor; hand the new
		// position to the client rather than spinning on it.
		if page.CursorEnd != cursor {
			return page, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return page, nil
		}
		wait := r.opts.PollInterval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return page, nil
		case <-time.After(wait):
		}
	}
}

// Stream continuously flushes new deltas to sink until timeout elapses, ctx
// is canceled, or the sink's client disconnects. Same cursor semantics and
// wait discipline as LongPoll. Returns nil on timeout and disconnect: ending
// a stream with no new data is not an error.
func (r *Reader) Stream(ctx context.Context, ns *Namespace, cursor string, filters Filters, timeout time.Duration, sink Sink) error {
	filter, err := newFilter(filters.Expression)
	if err != nil {
		return err
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		page, err := r.Poll(ctx, ns, cursor, r.opts.PageSize, filters)
		if err != nil {
			return err
		}
		sent := 0
		for _, d := range page.Deltas {
			if !filter.Eval(d) {
				continue
			}
			if err := sink.Send(d); err != nil {
				return nil
			}
			sent++
		}
		if sent > 0 {
			if err := sink.Flush(); err != nil {
				return nil
			}
		}
		cursor = page.CursorEnd
		if len(page.Deltas) > 0 {
			continue
		}
		select {
		case <-sink.Context().Done():
			return nil
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case <-time.After(r.opts.PollInterval):
		}
	}
}
