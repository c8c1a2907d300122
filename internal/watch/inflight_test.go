package watch

import (
	"testing"
	"time"
)

func TestBeginFinishSerializesPage(t *testing.T) {
	t.Parallel()
	w := &Watcher{
		timers:   make(map[string]*time.Timer),
		inflight: make(map[string]bool),
	}

	if !w.begin("index.html") {
		t.Fatalf("expected first begin to claim the page")
	}
	if !w.begin("other.html") {
		t.Fatalf("expected other pages to be independent")
	}
	if w.begin("index.html") {
		t.Fatalf("expected begin to refuse a page in flight")
	}
	if !w.finish("index.html") {
		t.Fatalf("expected finish to request another pass after a change in flight")
	}
	if !w.begin("index.html") {
		t.Fatalf("expected page to be claimable after finish")
	}
	if w.finish("index.html") {
		t.Fatalf("expected no further pass without new changes")
	}
	if w.finish("other.html") {
		t.Fatalf("expected no further pass for other page")
	}
}
