// Package watch re-processes pages as a site generator rewrites them.
package watch

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/euforicio/pagefix/internal/site"
)

// Event types emitted to subscribers.
const (
	EventPageProcessed = "pageProcessed"
	EventPageUnchanged = "pageUnchanged"
	EventPageFailed    = "pageFailed"
)

// DefaultDebounce is the quiet period a page needs before it is processed.
const DefaultDebounce = 100 * time.Millisecond

// Event describes a page the watcher handled.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Path      string    `json:"path"`
	Error     string    `json:"error,omitempty"`
}

// Options configure the watcher.
type Options struct {
	Debounce time.Duration
}

// Watcher feeds filesystem changes under the processor root back into the
// processor.
type Watcher struct {
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *slog.Logger
	watcher     *fsnotify.Watcher
	proc        *site.Processor
	timers      map[string]*time.Timer
	inflight    map[string]bool // page -> changed again while processing
	written     map[string][sha256.Size]byte
	subscribers map[uint64]*subscriber
	debounce    time.Duration
	subCounter  atomic.Uint64
	subsMu      sync.RWMutex
	timersMu    sync.Mutex
	writtenMu   sync.Mutex
	closeOnce   sync.Once
}

type subscriber struct {
	ctx context.Context
	ch  chan Event
}

// New starts watching the processor root recursively.
func New(parentCtx context.Context, proc *site.Processor, logger *slog.Logger, opts Options) (*Watcher, error) {
	if proc == nil {
		return nil, errors.New("processor must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	ctx, cancel := context.WithCancel(parentCtx)
	w := &Watcher{
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.With("component", "watch"),
		proc:        proc,
		debounce:    debounce,
		timers:      make(map[string]*time.Timer),
		inflight:    make(map[string]bool),
		written:     make(map[string][sha256.Size]byte),
		subscribers: make(map[uint64]*subscriber),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w.watcher = watcher

	if err := w.watchRecursive(proc.Root()); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// Close stops the watcher and pending debounce timers.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancel()
		w.timersMu.Lock()
		for rel, t := range w.timers {
			t.Stop()
			delete(w.timers, rel)
		}
		w.timersMu.Unlock()
		err = w.watcher.Close()
	})
	return err
}

// Subscribe registers for page events. The returned channel closes when ctx
// is done or the watcher stops.
func (w *Watcher) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)
	id := w.subCounter.Add(1)

	w.subsMu.Lock()
	w.subscribers[id] = &subscriber{ctx: ctx, ch: ch}
	w.subsMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-w.ctx.Done():
		}
		w.removeSubscriber(id)
	}()

	return ch
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", slog.Any("err", err))
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Name == "" || w.inOutput(event.Name) {
		return
	}
	rel, ok := w.proc.Rel(event.Name)
	if !ok {
		return
	}
	op := event.Op
	w.logger.Debug("fsnotify event", slog.String("path", rel), slog.String("op", op.String()))

	if op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watchRecursive(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", slog.String("path", rel), slog.Any("err", err))
			}
			return
		}
	}
	if op&(fsnotify.Create|fsnotify.Write) == 0 || !w.proc.Selects(rel) {
		return
	}
	w.schedule(rel)
}

// schedule (re)starts the debounce timer for rel.
func (w *Watcher) schedule(rel string) {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()
	if w.ctx.Err() != nil {
		return
	}
	if t, ok := w.timers[rel]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[rel] = time.AfterFunc(w.debounce, func() {
		if !w.begin(rel) {
			return
		}
		w.process(rel)
		if w.finish(rel) {
			w.schedule(rel)
		}
	})
}

// begin drops the fired timer for rel and claims the page. When the page is
// already being processed it is marked for another pass and begin returns
// false.
func (w *Watcher) begin(rel string) bool {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()
	delete(w.timers, rel)
	if _, busy := w.inflight[rel]; busy {
		w.inflight[rel] = true
		return false
	}
	w.inflight[rel] = false
	return true
}

// finish releases rel and reports whether it changed while being processed.
func (w *Watcher) finish(rel string) bool {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()
	again := w.inflight[rel]
	delete(w.inflight, rel)
	return again
}

func (w *Watcher) process(rel string) {
	if w.ctx.Err() != nil {
		return
	}
	raw, err := os.ReadFile(filepath.Join(w.proc.Root(), filepath.FromSlash(rel))) //nolint:gosec // rel is relative to the processor root
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("read page failed", slog.String("path", rel), slog.Any("err", err))
		}
		return
	}
	if w.ownWrite(rel, raw) {
		return
	}

	res, err := w.proc.ProcessFile(w.ctx, rel)
	if err != nil {
		if w.ctx.Err() != nil {
			return
		}
		w.logger.Warn("page failed", slog.String("path", rel), slog.Any("err", err))
		w.broadcast(Event{Type: EventPageFailed, Path: rel, Error: err.Error(), Timestamp: time.Now()})
		return
	}

	if res.Written && w.proc.OutputDir() == "" {
		w.writtenMu.Lock()
		w.written[rel] = sha256.Sum256(res.Output)
		w.writtenMu.Unlock()
	}

	eventType := EventPageUnchanged
	if res.Changed {
		eventType = EventPageProcessed
	}
	w.logger.Info("page handled", slog.String("path", rel), slog.String("event", eventType))
	w.broadcast(Event{Type: eventType, Path: rel, Timestamp: time.Now()})
}

// ownWrite reports whether raw is exactly what the watcher last wrote to rel.
func (w *Watcher) ownWrite(rel string, raw []byte) bool {
	w.writtenMu.Lock()
	defer w.writtenMu.Unlock()
	sum, ok := w.written[rel]
	if !ok {
		return false
	}
	if sum == sha256.Sum256(raw) {
		return true
	}
	delete(w.written, rel)
	return false
}

func (w *Watcher) broadcast(evt Event) {
	w.subsMu.RLock()
	var stale []uint64
	for id, sub := range w.subscribers {
		select {
		case <-sub.ctx.Done():
			stale = append(stale, id)
		case <-w.ctx.Done():
			stale = append(stale, id)
		case sub.ch <- evt:
		default:
			// drop event when subscriber lags
		}
	}
	w.subsMu.RUnlock()

	for _, id := range stale {
		w.removeSubscriber(id)
	}
}

func (w *Watcher) removeSubscriber(id uint64) {
	w.subsMu.Lock()
	if sub, ok := w.subscribers[id]; ok {
		close(sub.ch)
		delete(w.subscribers, id)
	}
	w.subsMu.Unlock()
}

func (w *Watcher) watchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.proc.Root() && (site.IsExcludedDir(d.Name()) || w.inOutput(path)) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", slog.String("path", path), slog.Any("err", err))
		}
		return nil
	})
}

func (w *Watcher) inOutput(path string) bool {
	out := w.proc.OutputDir()
	if out == "" {
		return false
	}
	rel, err := filepath.Rel(out, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
