package documents

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/plagiascan/plagiascan-cli/pkg/api"
	"github.com/plagiascan/plagiascan-cli/pkg/polling"
)

func newTestTracker(t *testing.T, handler http.Handler) (*Tracker, *api.Session, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	sess := api.NewSession("test-token")
	poll := polling.NewManager(nil)
	t.Cleanup(poll.StopAll)

	tr := NewTracker(Config{
		Client:   api.New(srv.URL, sess),
		Session:  sess,
		Poll:     poll,
		Interval: 5 * time.Millisecond,
	})
	return tr, sess, srv
}

func TestRefreshReplacesSnapshot(t *testing.T) {
	tr, _, _ := newTestTracker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id": 1, "filename": "a.pdf", "status": "indexed"},
			{"id": 2, "filename": "b.txt", "status": "processing"}
		]`))
	}))

	if err := tr.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	docs := tr.Documents()
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[1].ID != 2 || docs[1].Status != api.DocProcessing {
		t.Fatalf("unexpected document: %+v", docs[1])
	}
}

func TestUploadPollsUntilIndexed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "essay.txt")
	if err := os.WriteFile(path, []byte("essay text"), 0o644); err != nil {
		t.Fatal(err)
	}

	var lists int32
	mux := http.NewServeMux()
	mux.HandleFunc("/documents/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"document_id": 5, "status": "pending"}`))
			return
		}
		n := atomic.AddInt32(&lists, 1)
		if n < 3 {
			w.Write([]byte(`[{"id": 5, "filename": "essay.txt", "status": "pending"}]`))
			return
		}
		w.Write([]byte(`[{"id": 5, "filename": "essay.txt", "status": "indexed"}]`))
	})

	tr, _, _ := newTestTracker(t, mux)

	doc, err := tr.Upload(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID != 5 || doc.Status != api.DocPending {
		t.Fatalf("unexpected upload result: %+v", doc)
	}

	select {
	case <-tr.PollDone():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after the document went terminal")
	}

	docs := tr.Documents()
	if len(docs) != 1 || docs[0].Status != api.DocIndexed {
		t.Fatalf("unexpected snapshot: %+v", docs)
	}

	// No fetch may happen after the tick that observed the terminal
	// status.
	n := atomic.LoadInt32(&lists)
	time.Sleep(40 * time.Millisecond)
	if got := atomic.LoadInt32(&lists); got != n {
		t.Fatalf("list fetched after poller stopped: %d -> %d", n, got)
	}
}

func TestUploadRejectsUnknownExtension(t *testing.T) {
	var hits int32
	tr, _, _ := newTestTracker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))

	dir := t.TempDir()
	path := filepath.Join(dir, "binary.exe")
	if err := os.WriteFile(path, []byte{0x4d, 0x5a}, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := tr.Upload(context.Background(), path)
	if !errors.Is(err, ErrUnsupportedFile) {
		t.Fatalf("expected ErrUnsupportedFile, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatal("rejected upload must not reach the server")
	}
}

func TestDeleteRevertsOnServerFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/documents/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 1, "filename": "a.pdf", "status": "indexed"}]`))
	})
	mux.HandleFunc("/documents/1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail":"Not authorized to delete this document"}`))
	})

	tr, _, _ := newTestTracker(t, mux)
	if err := tr.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := tr.Delete(context.Background(), 1)
	var reqErr *api.RequestError
	if !errors.As(err, &reqErr) || reqErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected a 403 RequestError, got %v", err)
	}

	docs := tr.Documents()
	if len(docs) != 1 || docs[0].ID != 1 {
		t.Fatalf("optimistic removal was not reverted: %+v", docs)
	}
}

func TestDeleteSuppressesStaleAndLaggingLists(t *testing.T) {
	var lists int32
	listStarted := make(chan struct{})
	listGate := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/documents/", func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&lists, 1) {
		case 1:
			// A list response issued before the delete, arriving after
			// it.
			close(listStarted)
			<-listGate
			w.Write([]byte(`[{"id": 1, "filename": "a.pdf", "status": "indexed"}]`))
		case 2:
			// The server has not observed the delete yet.
			w.Write([]byte(`[{"id": 1, "filename": "a.pdf", "status": "indexed"}]`))
		case 3:
			// Delete finally visible server-side.
			w.Write([]byte(`[]`))
		default:
			// The id reappears later (re-upload); must be shown again.
			w.Write([]byte(`[{"id": 1, "filename": "a.pdf", "status": "pending"}]`))
		}
	})
	mux.HandleFunc("/documents/1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"deleted"}`))
	})

	tr, _, _ := newTestTracker(t, mux)
	ctx := context.Background()

	refreshDone := make(chan error, 1)
	go func() { refreshDone <- tr.Refresh(ctx) }()
	<-listStarted

	if err := tr.Delete(ctx, 1); err != nil {
		t.Fatal(err)
	}
	close(listGate)
	if err := <-refreshDone; err != nil {
		t.Fatal(err)
	}

	// The pre-delete response must not resurrect the id.
	if docs := tr.Documents(); len(docs) != 0 {
		t.Fatalf("stale list resurrected a deleted document: %+v", docs)
	}

	// A lagging snapshot that still carries the id is held back too.
	if err := tr.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if docs := tr.Documents(); len(docs) != 0 {
		t.Fatalf("lagging list resurrected a deleted document: %+v", docs)
	}

	// One response without the id retires the tombstone.
	if err := tr.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if docs := tr.Documents(); len(docs) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", docs)
	}

	// After that, list() speaks for itself again.
	if err := tr.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if docs := tr.Documents(); len(docs) != 1 || docs[0].ID != 1 {
		t.Fatalf("reappeared document hidden by a retired tombstone: %+v", docs)
	}
}

func TestUnauthorizedPollStopsSessionAndPollers(t *testing.T) {
	var lists int32
	tr, sess, _ := newTestTracker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&lists, 1) == 1 {
			w.Write([]byte(`[{"id": 1, "filename": "a.pdf", "status": "processing"}]`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))

	tr.EnsurePolling()

	select {
	case <-tr.PollDone():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after an authorization failure")
	}

	if sess.Authenticated() {
		t.Fatal("session not invalidated")
	}
	if tr.Polling() {
		t.Fatal("poller still active")
	}

	n := atomic.LoadInt32(&lists)
	time.Sleep(40 * time.Millisecond)
	if got := atomic.LoadInt32(&lists); got != n {
		t.Fatalf("requests issued after session invalidation: %d -> %d", n, got)
	}
}

func TestSetOnChangeWhileUploadPollIsRunning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "essay.txt")
	if err := os.WriteFile(path, []byte("essay text"), 0o644); err != nil {
		t.Fatal(err)
	}

	var indexed int32
	mux := http.NewServeMux()
	mux.HandleFunc("/documents/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"document_id": 5, "status": "pending"}`))
			return
		}
		if atomic.LoadInt32(&indexed) == 1 {
			w.Write([]byte(`[{"id": 5, "filename": "essay.txt", "status": "indexed"}]`))
			return
		}
		w.Write([]byte(`[{"id": 5, "filename": "essay.txt", "status": "pending"}]`))
	})

	tr, _, _ := newTestTracker(t, mux)

	if _, err := tr.Upload(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	// Install the callback while the poll goroutine started by Upload
	// is live, as the upload --watch flow does.
	seen := make(chan string, 16)
	tr.SetOnChange(func(docs []api.Document) {
		if len(docs) == 1 {
			select {
			case seen <- docs[0].Status:
			default:
			}
		}
	})
	atomic.StoreInt32(&indexed, 1)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case status := <-seen:
			if status == api.DocIndexed {
				return
			}
		case <-deadline:
			t.Fatal("late-installed callback never observed the terminal status")
		}
	}
}

func TestPollerIgnoresTombstonedDocumentWhenDeciding(t *testing.T) {
	var lists int32
	mux := http.NewServeMux()
	mux.HandleFunc("/documents/", func(w http.ResponseWriter, r *http.Request) {
		// The server never observes the delete: id 2 keeps lagging in
		// every response.
		atomic.AddInt32(&lists, 1)
		w.Write([]byte(`[
			{"id": 1, "filename": "a.pdf", "status": "indexed"},
			{"id": 2, "filename": "b.txt", "status": "pending"}
		]`))
	})
	mux.HandleFunc("/documents/2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"deleted"}`))
	})

	tr, _, _ := newTestTracker(t, mux)
	ctx := context.Background()

	if err := tr.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tr.Delete(ctx, 2); err != nil {
		t.Fatal(err)
	}

	// Every visible document is terminal, so the poller must stop even
	// though the raw response still carries the pending tombstoned id.
	tr.EnsurePolling()
	select {
	case <-tr.PollDone():
	case <-time.After(2 * time.Second):
		t.Fatal("poller kept running on a tombstoned document")
	}
}

func TestDeleteRevertKeepsPosition(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/documents/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id": 1, "filename": "a.pdf", "status": "indexed"},
			{"id": 2, "filename": "b.txt", "status": "indexed"},
			{"id": 3, "filename": "c.txt", "status": "indexed"}
		]`))
	})
	mux.HandleFunc("/documents/2", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail":"Not authorized to delete this document"}`))
	})

	tr, _, _ := newTestTracker(t, mux)
	if err := tr.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := tr.Delete(context.Background(), 2); err == nil {
		t.Fatal("expected the delete to fail")
	}

	docs := tr.Documents()
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents after revert, got %d", len(docs))
	}
	for i, want := range []int64{1, 2, 3} {
		if docs[i].ID != want {
			t.Fatalf("revert changed document order: %+v", docs)
		}
	}
}
