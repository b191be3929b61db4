package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rivermail/syncd/internal/delta"
	"github.com/rivermail/syncd/internal/runtime"
	logpkg "github.com/rivermail/syncd/pkg/log"
)

const (
	defaultLongPollTimeout = 30 * time.Second
	maxWaitTimeout         = 10 * time.Minute
)

// DeltaController serves the incremental-sync endpoints.
type DeltaController struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

func NewDeltaController(rt *runtime.Runtime, logger logpkg.Logger) *DeltaController {
	return &DeltaController{rt: rt, logger: logger.With(logpkg.Component("http.delta"))}
}

func (c *DeltaController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/delta", c.handlePoll)
	mux.HandleFunc("/delta/longpoll", c.handleLongPoll)
	mux.HandleFunc("/delta/streaming", c.handleStreaming)
	mux.HandleFunc("/delta/generate_cursor", c.handleGenerateCursor)
	mux.HandleFunc("/delta/latest_cursor", c.handleLatestCursor)
}

type deltaResponse struct {
	CursorStart string        `json:"cursor_start"`
	Deltas      []delta.Delta `json:"deltas"`
	CursorEnd   string        `json:"cursor_end"`
	Timestamp   int64         `json:"timestamp"`
}

func respond(w http.ResponseWriter, page delta.Page) {
	if page.Deltas == nil {
		page.Deltas = []delta.Delta{}
	}
	writeJSON(w, deltaResponse{
		CursorStart: page.CursorStart,
		Deltas:      page.Deltas,
		CursorEnd:   page.CursorEnd,
		Timestamp:   time.Now().Unix(),
	})
}

type deltaQuery struct {
	ns      *delta.Namespace
	cursor  string
	limit   int
	filters delta.Filters
	timeout time.Duration
}

func (c *DeltaController) parseQuery(w http.ResponseWriter, r *http.Request, defTimeout time.Duration) (deltaQuery, bool) {
	q := r.URL.Query()
	cursor := q.Get("cursor")
	if cursor == "" {
		writeError(w, http.StatusBadRequest, "cursor parameter is required")
		return deltaQuery{}, false
	}
	ns, err := c.rt.Reader().Namespace(r.Context(), q.Get("namespace"))
	if err != nil {
		writeDeltaError(w, err)
		return deltaQuery{}, false
	}
	return deltaQuery{
		ns:     ns,
		cursor: cursor,
		limit:  parseLimit(q.Get("limit")),
		filters: delta.Filters{
			Include:    parseTypes(q.Get("include_types")),
			Exclude:    parseTypes(q.Get("exclude_types")),
			Expression: q.Get("filter"),
		},
		timeout: parseTimeout(q.Get("timeout"), defTimeout, maxWaitTimeout),
	}, true
}

// handlePoll returns one page immediately, new data or not.
func (c *DeltaController) handlePoll(w http.ResponseWriter, r *http.Request) {
	dq, ok := c.parseQuery(w, r, 0)
	if !ok {
		return
	}
	page, err := c.rt.Reader().Poll(r.Context(), dq.ns, dq.cursor, dq.limit, dq.filters)
	if err != nil {
		writeDeltaError(w, err)
		return
	}
	respond(w, page)
}

// handleLongPoll blocks until new data arrives or the timeout elapses. A
// timeout is success: an empty page with the unchanged cursor.
func (c *DeltaController) handleLongPoll(w http.ResponseWriter, r *http.Request) {
	dq, ok := c.parseQuery(w, r, defaultLongPollTimeout)
	if !ok {
		return
	}
	page, err := c.rt.Reader().LongPoll(r.Context(), dq.ns, dq.cursor, dq.limit, dq.filters, dq.timeout)
	if err != nil {
		writeDeltaError(w, err)
		return
	}
	respond(w, page)
}

// handleStreaming flushes deltas to the client as they commit, SSE-style,
// until the timeout elapses or the client disconnects.
func (c *DeltaController) handleStreaming(w http.ResponseWriter, r *http.Request) {
	dq, ok := c.parseQuery(w, r, maxWaitTimeout)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	err := c.rt.Reader().Stream(r.Context(), dq.ns, dq.cursor, dq.filters, dq.timeout, sseSink{w: w, r: r})
	if err != nil {
		// Headers are already on the wire; all we can do is log and drop.
		c.logger.Warn("delta stream aborted", logpkg.Err(err), logpkg.Str("namespace", dq.ns.PublicID))
	}
}

type generateCursorReq struct {
	Start int64 `json:"start"`
}

// handleGenerateCursor exchanges a unix timestamp for the cursor of the
// newest log entry at or before it.
func (c *DeltaController) handleGenerateCursor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req generateCursorReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ns, err := c.rt.Reader().Namespace(r.Context(), r.URL.Query().Get("namespace"))
	if err != nil {
		writeDeltaError(w, err)
		return
	}
	cursor, err := c.rt.Reader().CursorNearTimestamp(r.Context(), ns, time.Unix(req.Start, 0).UTC())
	if err != nil {
		writeDeltaError(w, err)
		return
	}
	writeJSON(w, map[string]string{"cursor": cursor})
}

// handleLatestCursor returns the cursor of the namespace's newest entry.
func (c *DeltaController) handleLatestCursor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ns, err := c.rt.Reader().Namespace(r.Context(), r.URL.Query().Get("namespace"))
	if err != nil {
		writeDeltaError(w, err)
		return
	}
	cursor, err := c.rt.Reader().LatestCursor(r.Context(), ns)
	if err != nil {
		writeDeltaError(w, err)
		return
	}
	writeJSON(w, map[string]string{"cursor": cursor})
}
