package scans

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/plagiascan/plagiascan-cli/pkg/api"
	"github.com/plagiascan/plagiascan-cli/pkg/polling"
)

// ErrDocumentNotReady is returned when a scan is requested for a
// document the index has not finished with.
var ErrDocumentNotReady = errors.New("document is not indexed yet")

// DocumentSource is the view of document state the tracker needs to
// guard scan initiation. *documents.Tracker satisfies it.
type DocumentSource interface {
	Lookup(id int64) (api.Document, bool)
}

type Config struct {
	Client   *api.Client
	Session  *api.Session
	Poll     *polling.Manager
	Docs     DocumentSource
	Interval time.Duration
	Log      polling.Logger // optional; nil = no logging
}

// Tracker owns the tracked scan records. Records are created at
// initiation, mutated only by server snapshots, and frozen once the
// server declares them completed or failed.
type Tracker struct {
	client   *api.Client
	sess     *api.Session
	poll     *polling.Manager
	docs     DocumentSource
	interval time.Duration
	log      polling.Logger

	mu       sync.Mutex
	scans    map[int64]api.Scan
	waiters  map[int64][]chan api.Scan
	onUpdate func(scan api.Scan)
}

// SetOnUpdate installs fn to run after every applied snapshot. Safe to
// call while pollers are running.
func (t *Tracker) SetOnUpdate(fn func(scan api.Scan)) {
	t.mu.Lock()
	t.onUpdate = fn
	t.mu.Unlock()
}

func NewTracker(cfg Config) *Tracker {
	log := cfg.Log
	if log == nil {
		log = polling.NopLogger()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Tracker{
		client:   cfg.Client,
		sess:     cfg.Session,
		poll:     cfg.Poll,
		docs:     cfg.Docs,
		interval: interval,
		log:      log,
		scans:    make(map[int64]api.Scan),
		waiters:  make(map[int64][]chan api.Scan),
	}
}

func key(scanID int64) string {
	return fmt.Sprintf("scan:%d", scanID)
}

// Scan returns the tracked record for scanID, if any.
func (t *Tracker) Scan(scanID int64) (api.Scan, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.scans[scanID]
	return s, ok
}

// Initiate requests a scan of documentID. The document must be
// indexed; the UI disables scanning earlier than that, but polled
// state can race a user action, so the guard lives here too. No
// network call is made when the guard fails.
func (t *Tracker) Initiate(ctx context.Context, documentID int64) (api.ScanHandle, error) {
	doc, ok := t.docs.Lookup(documentID)
	if !ok || doc.Status != api.DocIndexed {
		return api.ScanHandle{}, fmt.Errorf("document %d: %w", documentID, ErrDocumentNotReady)
	}

	h, err := t.client.InitiateScan(ctx, documentID)
	if err != nil {
		return api.ScanHandle{}, t.handleErr(err)
	}

	t.mu.Lock()
	t.scans[h.ScanID] = api.Scan{
		ScanID:     h.ScanID,
		DocumentID: documentID,
		Status:     api.ScanQueued,
	}
	t.mu.Unlock()

	t.Watch(h.ScanID)
	return h, nil
}

// Refresh fetches scanID once through the staleness gate. On error the
// tracked record is left exactly as it was: a transport failure is not
// a failed scan, and the two must never be conflated.
func (t *Tracker) Refresh(ctx context.Context, scanID int64) (api.Scan, error) {
	err := t.poll.Do(ctx, key(scanID), t.fetchFn(scanID), t.apply)
	cur, _ := t.Scan(scanID)
	if err != nil {
		return cur, t.handleErr(err)
	}
	return cur, nil
}

// Watch starts polling scanID until it reaches a terminal state.
// Watching an already-terminal scan is a no-op.
func (t *Tracker) Watch(scanID int64) {
	if cur, ok := t.Scan(scanID); ok && api.ScanTerminal(cur.Status) {
		return
	}
	t.poll.Start(key(scanID), polling.Task{
		Interval: t.interval,
		Fetch:    t.fetchFn(scanID),
		Apply:    t.apply,
		OnError: func(err error) {
			t.log.Warnf("scans: poll tick for scan %d failed: %v", scanID, err)
			t.handleErr(err)
		},
		Continue: func(result interface{}) bool {
			return !api.ScanTerminal(result.(api.Scan).Status)
		},
	})
}

// Done returns a channel that yields the terminal record for scanID
// and is then closed. For an already-terminal scan it is fulfilled
// immediately. The channel is closed without a value if the session
// dies while waiting.
func (t *Tracker) Done(scanID int64) <-chan api.Scan {
	ch := make(chan api.Scan, 1)
	t.mu.Lock()
	if cur, ok := t.scans[scanID]; ok && api.ScanTerminal(cur.Status) {
		t.mu.Unlock()
		ch <- cur
		close(ch)
		return ch
	}
	t.waiters[scanID] = append(t.waiters[scanID], ch)
	t.mu.Unlock()
	return ch
}

func (t *Tracker) fetchFn(scanID int64) func(ctx context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		s, err := t.client.GetScan(ctx, scanID)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// apply replaces the tracked record with a server snapshot. Terminal
// records are immutable: a late snapshot for a finished scan is
// dropped on the floor.
func (t *Tracker) apply(result interface{}) {
	snap := result.(api.Scan)

	t.mu.Lock()
	cur, known := t.scans[snap.ScanID]
	if known && api.ScanTerminal(cur.Status) {
		t.mu.Unlock()
		return
	}
	if known && snap.DocumentID == 0 {
		snap.DocumentID = cur.DocumentID
	}
	t.scans[snap.ScanID] = snap

	var waiters []chan api.Scan
	if api.ScanTerminal(snap.Status) {
		waiters = t.waiters[snap.ScanID]
		delete(t.waiters, snap.ScanID)
	}
	onUpdate := t.onUpdate
	t.mu.Unlock()

	for _, ch := range waiters {
		ch <- snap
		close(ch)
	}
	if onUpdate != nil {
		onUpdate(snap)
	}
}

// handleErr invalidates the session, halts all polling, and aborts
// every waiter on an authorization failure. Other errors pass through.
func (t *Tracker) handleErr(err error) error {
	if !errors.Is(err, api.ErrUnauthorized) {
		return err
	}

	t.sess.Invalidate()
	t.poll.StopAll()

	t.mu.Lock()
	pending := t.waiters
	t.waiters = make(map[int64][]chan api.Scan)
	t.mu.Unlock()
	for _, chs := range pending {
		for _, ch := range chs {
			close(ch)
		}
	}
	return err
}
