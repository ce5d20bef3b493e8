package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"

	"github.com/untoldecay/graphtwin/internal/change"
	"github.com/untoldecay/graphtwin/internal/queue"
)

const (
	ingestDebounce     = 500 * time.Millisecond
	ingestPollInterval = 5 * time.Second
	rejectedSuffix     = ".rejected"
)

// DirIngester watches a drop directory and pushes every *.json change file
// it finds onto the queue. Files are deleted once queued; files that do not
// decode to a valid envelope are renamed with a .rejected suffix so they are
// inspected instead of rescanned.
//
// Falls back to periodic scans when filesystem notifications are
// unavailable.
type DirIngester struct {
	dir   string
	queue queue.Queue
	log   *slog.Logger

	watcher     *fsnotify.Watcher
	debouncer   *debouncer
	pollingMode bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDirIngester prepares an ingester for dir, creating it if needed.
func NewDirIngester(dir string, q queue.Queue, log *slog.Logger) (*DirIngester, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ingest directory: %w", err)
	}
	d := &DirIngester{dir: dir, queue: q, log: log}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("filesystem notifications unavailable, polling instead",
			"dir", dir, "interval", ingestPollInterval, "error", err)
		d.pollingMode = true
		return d, nil
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch ingest directory: %w", err)
	}
	d.watcher = watcher
	return d, nil
}

// Start scans once for files dropped while the ingester was down, then
// begins watching. Runs in the background until ctx is cancelled or Close
// is called.
func (d *DirIngester) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.debouncer = newDebouncer(ingestDebounce, func() { d.scan(ctx) })
	d.scan(ctx)

	if d.pollingMode {
		d.startPolling(ctx)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case event, ok := <-d.watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".json") {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					d.debouncer.Trigger()
				}
			case err, ok := <-d.watcher.Errors:
				if !ok {
					return
				}
				d.log.Warn("ingest watcher error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (d *DirIngester) startPolling(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(ingestPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.scan(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// scan queues every decodable *.json file in the directory, in name order.
func (d *DirIngester) scan(ctx context.Context) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		d.log.Warn("ingest scan failed", "dir", d.dir, "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		d.ingestFile(ctx, filepath.Join(d.dir, entry.Name()))
	}
}

func (d *DirIngester) ingestFile(ctx context.Context, path string) {
	body, err := os.ReadFile(path)
	if err != nil {
		d.log.Warn("cannot read dropped file", "path", path, "error", err)
		return
	}

	env, err := change.Decode(body)
	if err == nil {
		err = env.Validate()
	}
	if err != nil {
		d.log.Warn("rejecting dropped file", "path", path, "error", err)
		if renameErr := os.Rename(path, path+rejectedSuffix); renameErr != nil {
			d.log.Error("cannot set aside rejected file", "path", path, "error", renameErr)
		}
		return
	}

	if err := d.queue.Push(ctx, body); err != nil {
		// Leave the file in place; the next scan retries it.
		d.log.Error("push from ingest failed", "path", path, "error", err)
		return
	}
	if err := os.Remove(path); err != nil {
		d.log.Error("cannot remove ingested file", "path", path, "error", err)
		return
	}
	d.log.Info("ingested change file",
		"file", filepath.Base(path), "action", env.Action, "version", env.Version)
}

// Close stops watching and waits for in-flight scans to finish.
func (d *DirIngester) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	if d.debouncer != nil {
		d.debouncer.CancelAndWait()
	}
	if d.watcher != nil {
		return d.watcher.Close()
	}
	return nil
}

// debouncer batches rapid triggers into one action after a quiet period.
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	duration time.Duration
	action   func()
	seq      uint64
	wg       sync.WaitGroup
}

func newDebouncer(duration time.Duration, action func()) *debouncer {
	return &debouncer{duration: duration, action: action}
}

// Trigger resets the quiet period; the action fires once it elapses without
// another trigger.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}
	d.seq++
	current := d.seq

	d.wg.Add(1)
	d.timer = time.AfterFunc(d.duration, func() {
		defer d.wg.Done()
		d.mu.Lock()
		if d.seq != current {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		d.action()
	})
}

// Cancel stops a pending action without waiting for a running one.
func (d *debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		if d.timer.Stop() {
			d.wg.Done()
		}
		d.timer = nil
	}
}

// CancelAndWait stops pending actions and drains any in-flight one.
func (d *debouncer) CancelAndWait() {
	d.Cancel()
	d.wg.Wait()
}
