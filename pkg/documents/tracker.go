package documents

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/plagiascan/plagiascan-cli/pkg/api"
	"github.com/plagiascan/plagiascan-cli/pkg/polling"
)

// pollKey identifies the shared document-list task: the list endpoint
// returns every document at once, so one key covers the whole set.
const pollKey = "documents"

// DefaultInterval matches the cadence the service dashboard was tuned
// for. A tunable, not a protocol requirement.
const DefaultInterval = 3 * time.Second

type Config struct {
	Client   *api.Client
	Session  *api.Session
	Poll     *polling.Manager
	Interval time.Duration
	Log      polling.Logger // optional; nil = no logging
}

// Tracker owns the client-visible document collection. The server is
// the sole authority on document status: local state only ever changes
// by applying list() snapshots, plus an optimistic removal window
// around deletes. All mutation funnels through the tracker's methods.
type Tracker struct {
	client   *api.Client
	sess     *api.Session
	poll     *polling.Manager
	interval time.Duration
	log      polling.Logger

	mu   sync.Mutex
	docs []api.Document
	// tombstones holds optimistically deleted ids. A tombstoned id is
	// filtered out of every applied snapshot until one list() response
	// arrives without it, so a poll that predates the delete cannot
	// resurrect the document.
	tombstones map[int64]bool
	onChange   func(docs []api.Document)
}

// SetOnChange installs fn to run after every applied snapshot. Safe to
// call while the poller is running.
func (t *Tracker) SetOnChange(fn func(docs []api.Document)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func NewTracker(cfg Config) *Tracker {
	log := cfg.Log
	if log == nil {
		log = polling.NopLogger()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		client:     cfg.Client,
		sess:       cfg.Session,
		poll:       cfg.Poll,
		interval:   interval,
		log:        log,
		tombstones: make(map[int64]bool),
	}
}

// Documents returns a copy of the current snapshot.
func (t *Tracker) Documents() []api.Document {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]api.Document(nil), t.docs...)
}

// Lookup returns the tracked document with the given id. Satisfies
// scans.DocumentSource.
func (t *Tracker) Lookup(id int64) (api.Document, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range t.docs {
		if d.ID == id {
			return d, true
		}
	}
	return api.Document{}, false
}

// Refresh fetches the authoritative list now, through the same
// staleness gate the poller uses.
func (t *Tracker) Refresh(ctx context.Context) error {
	if err := t.poll.Do(ctx, pollKey, t.fetch, t.apply); err != nil {
		return t.handleErr(err)
	}
	return nil
}

func (t *Tracker) fetch(ctx context.Context) (interface{}, error) {
	docs, err := t.client.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// apply replaces the snapshot with a list() response, holding back
// tombstoned ids and retiring tombstones the server has caught up on.
func (t *Tracker) apply(result interface{}) {
	snapshot := result.([]api.Document)

	t.mu.Lock()
	kept := make([]api.Document, 0, len(snapshot))
	present := make(map[int64]bool, len(snapshot))
	for _, d := range snapshot {
		present[d.ID] = true
		if t.tombstones[d.ID] {
			continue
		}
		kept = append(kept, d)
	}
	for id := range t.tombstones {
		if !present[id] {
			// A response without the id has observed the delete;
			// from here on list() speaks for itself again.
			delete(t.tombstones, id)
		}
	}
	t.docs = kept
	onChange := t.onChange
	out := append([]api.Document(nil), kept...)
	t.mu.Unlock()

	if onChange != nil {
		onChange(out)
	}
}

// Upload validates the file locally, sends it, then refreshes the
// snapshot and makes sure the poller is running, since a fresh
// document always starts non-terminal.
func (t *Tracker) Upload(ctx context.Context, path string) (api.Document, error) {
	if err := Preflight(path); err != nil {
		return api.Document{}, err
	}

	doc, err := t.client.UploadDocument(ctx, path)
	if err != nil {
		return api.Document{}, t.handleErr(err)
	}

	if err := t.Refresh(ctx); err != nil {
		t.log.Warnf("documents: refresh after upload failed: %v", err)
	}
	t.EnsurePolling()
	return doc, nil
}

// Delete removes id optimistically, then issues the server delete. The
// optimistic removal is reverted if the server call fails. Bumping the
// poll key orphans any list response already in flight when the user
// acted, closing the resurrect window from that side too.
func (t *Tracker) Delete(ctx context.Context, id int64) error {
	t.mu.Lock()
	var removed *api.Document
	removedAt := -1
	kept := make([]api.Document, 0, len(t.docs))
	for i, d := range t.docs {
		if d.ID == id && removed == nil {
			r := d
			removed = &r
			removedAt = i
			continue
		}
		kept = append(kept, d)
	}
	t.docs = kept
	t.tombstones[id] = true
	t.mu.Unlock()

	t.poll.Bump(pollKey)

	if err := t.client.DeleteDocument(ctx, id); err != nil {
		t.mu.Lock()
		delete(t.tombstones, id)
		if removed != nil {
			// Reinsert where the document was so the view stays
			// stable until the next snapshot.
			i := removedAt
			if i > len(t.docs) {
				i = len(t.docs)
			}
			rest := append([]api.Document{*removed}, t.docs[i:]...)
			t.docs = append(t.docs[:i], rest...)
		}
		t.mu.Unlock()
		return t.handleErr(err)
	}
	return nil
}

// EnsurePolling starts the document poller unless it is already
// running. The poller stops itself once every document is terminal.
func (t *Tracker) EnsurePolling() {
	t.poll.Start(pollKey, polling.Task{
		Interval: t.interval,
		Fetch:    t.fetch,
		Apply:    t.apply,
		OnError: func(err error) {
			t.log.Warnf("documents: poll tick failed: %v", err)
			t.handleErr(err)
		},
		Continue: func(interface{}) bool {
			// Evaluated on the applied snapshot, not the raw response:
			// a tombstoned document still present in a lagging list()
			// must not keep the poller alive.
			return anyActive(t.Documents())
		},
	})
}

func (t *Tracker) StopPolling() {
	t.poll.Stop(pollKey)
}

// Polling reports whether the document poller is running.
func (t *Tracker) Polling() bool {
	return t.poll.Active(pollKey)
}

// PollDone returns a channel closed when the document poller stops.
func (t *Tracker) PollDone() <-chan struct{} {
	return t.poll.Done(pollKey)
}

// handleErr invalidates the session and halts all polling on an
// authorization failure. Other errors pass through untouched.
func (t *Tracker) handleErr(err error) error {
	if errors.Is(err, api.ErrUnauthorized) {
		t.sess.Invalidate()
		t.poll.StopAll()
	}
	return err
}

// anyActive reports whether any document can still change state.
func anyActive(docs []api.Document) bool {
	for _, d := range docs {
		if !api.DocTerminal(d.Status) {
			return true
		}
	}
	return false
}
