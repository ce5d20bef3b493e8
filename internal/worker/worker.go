// Package worker drains the change queue and applies each envelope to the
// versioned store. Exactly one worker consumes a queue; producers (HTTP
// server, CLI, directory ingest) only push.
package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/untoldecay/graphtwin/internal/audit"
	"github.com/untoldecay/graphtwin/internal/change"
	"github.com/untoldecay/graphtwin/internal/config"
	"github.com/untoldecay/graphtwin/internal/monitor"
	"github.com/untoldecay/graphtwin/internal/queue"
	"github.com/untoldecay/graphtwin/internal/reconcile"
	"github.com/untoldecay/graphtwin/internal/store"
)

// failurePause separates retries of a failing item so that a persistent
// store error does not spin the loop.
const failurePause = 500 * time.Millisecond

// Worker is the single queue consumer. Run applies items until the context
// is cancelled.
type Worker struct {
	queue   queue.Queue
	store   *store.Store
	engine  *reconcile.Engine
	monitor *monitor.Monitor
	audit   audit.Log
	log     *slog.Logger

	warnAfter       time.Duration
	poisonThreshold int

	// attempts counts consecutive failures per payload hash. An item that
	// keeps failing past the threshold is left in flight and logged.
	attempts map[string]int
}

// New wires a worker. aud may be audit.Nop{} when auditing is disabled.
func New(q queue.Queue, st *store.Store, eng *reconcile.Engine, mon *monitor.Monitor, aud audit.Log, log *slog.Logger) *Worker {
	w := &Worker{
		queue:           q,
		store:           st,
		engine:          eng,
		monitor:         mon,
		audit:           aud,
		log:             log,
		warnAfter:       time.Duration(config.GetInt("worker.warn_after_ms")) * time.Millisecond,
		poisonThreshold: config.GetInt("worker.poison_threshold"),
		attempts:        make(map[string]int),
	}
	if w.warnAfter <= 0 {
		w.warnAfter = 5 * time.Second
	}
	if w.poisonThreshold <= 0 {
		w.poisonThreshold = 3
	}
	return w
}

// Run restores any in-flight items left by a previous crash, then consumes
// the queue until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	restored, err := w.queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover in-flight items: %w", err)
	}
	if restored > 0 {
		w.log.Info("restored in-flight items to pending", "count", restored)
	}

	for {
		item, err := w.queue.Take(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("take failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(failurePause):
			}
			continue
		}
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item *queue.Item) {
	start := time.Now()

	env, err := change.Decode(item.Body)
	if err == nil {
		err = env.Validate()
	}
	if err != nil {
		w.log.Warn("dropping undecodable item", "queue_id", item.ID, "error", err)
		if ackErr := w.queue.Ack(ctx, item); ackErr != nil {
			w.log.Error("ack failed", "queue_id", item.ID, "error", ackErr)
		}
		return
	}

	applyErr := w.apply(ctx, env)
	elapsed := time.Since(start)

	if applyErr != nil {
		w.fail(ctx, item, env, applyErr)
		return
	}

	delete(w.attempts, bodyKey(item.Body))
	if ackErr := w.queue.Ack(ctx, item); ackErr != nil {
		w.log.Error("ack failed", "queue_id", item.ID, "error", ackErr)
	}
	if elapsed > w.warnAfter {
		w.log.Warn("slow apply",
			"action", env.Action, "version", env.Version,
			"timestamp", env.Timestamp, "duration", elapsed)
		return
	}
	w.log.Info("applied change",
		"action", env.Action, "version", env.Version,
		"timestamp", env.Timestamp, "duration", elapsed)
}

// apply holds the version lock for the whole load/mutate/persist cycle.
func (w *Worker) apply(ctx context.Context, env *change.Envelope) error {
	lock, err := w.store.Lock(ctx, env.Version)
	if err != nil {
		return fmt.Errorf("lock version %s: %w", env.Version, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			w.log.Error("unlock failed", "version", env.Version, "error", err)
		}
	}()

	w.monitor.StartProcessing(env.Version, env.Timestamp)
	defer w.monitor.FinishProcessing(env.Version)

	schema, err := w.store.LoadLive(env.Version, store.Schema)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	state, err := w.store.LoadLive(env.Version, store.State)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	gr := &reconcile.Graphs{Schema: schema, State: state}

	current, err := w.advanceArchives(env, gr)
	if err != nil {
		return err
	}

	results, err := w.engine.Apply(ctx, gr, env)
	if err != nil {
		return err
	}

	if err := w.store.WriteLive(env.Version, store.Schema, gr.Schema); err != nil {
		return fmt.Errorf("persist schema: %w", err)
	}
	if err := w.store.WriteLive(env.Version, store.State, gr.State); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	if err := w.writeArchivePair(env.Version, current, gr); err != nil {
		return err
	}

	w.record(ctx, env, results)
	return nil
}

// advanceArchives maintains the per-version current-timestamp pointer. The
// pre-apply pair is archived when a version is seen for the first time and
// whenever the payload timestamp strictly increases; the snapshot at the
// current timestamp is then overwritten post-apply, so reading archives in
// timestamp order replays the mutation history.
func (w *Worker) advanceArchives(env *change.Envelope, gr *reconcile.Graphs) (int64, error) {
	current, known := w.monitor.Current(env.Version)
	if !known {
		// Fresh process: the newest on-disk snapshot is the pointer.
		stamps, err := w.store.ArchiveTimestamps(env.Version, store.Schema)
		if err != nil {
			return 0, fmt.Errorf("list archives: %w", err)
		}
		if len(stamps) > 0 {
			current = stamps[len(stamps)-1]
			known = true
			w.monitor.SetCurrent(env.Version, current)
		}
	}

	switch {
	case !known:
		if err := w.writeArchivePair(env.Version, env.Timestamp, gr); err != nil {
			return 0, err
		}
		current = env.Timestamp
		w.monitor.SetCurrent(env.Version, current)
	case env.Timestamp > current:
		if err := w.writeArchivePair(env.Version, env.Timestamp, gr); err != nil {
			return 0, err
		}
		current = env.Timestamp
		w.monitor.SetCurrent(env.Version, current)
	case env.Timestamp < current:
		w.log.Warn("timestamp went backwards, snapshot pointer not advanced",
			"version", env.Version, "timestamp", env.Timestamp, "current", current)
	}
	return current, nil
}

func (w *Worker) writeArchivePair(version string, ts int64, gr *reconcile.Graphs) error {
	if err := w.store.WriteArchive(version, store.Schema, ts, gr.Schema); err != nil {
		return fmt.Errorf("archive schema at %d: %w", ts, err)
	}
	if err := w.store.WriteArchive(version, store.State, ts, gr.State); err != nil {
		return fmt.Errorf("archive state at %d: %w", ts, err)
	}
	return nil
}

// record emits the audit trail for a successful apply: one applied delta for
// the envelope, plus one failed delta per rejected bulk item. Auditing never
// fails the item.
func (w *Worker) record(ctx context.Context, env *change.Envelope, results []reconcile.ItemResult) {
	if _, err := w.audit.Record(ctx, &audit.Delta{
		Version:   env.Version,
		Action:    env.Action,
		Type:      env.Type,
		Timestamp: env.Timestamp,
		Outcome:   audit.OutcomeApplied,
		Payload:   env.Payload,
	}); err != nil {
		w.log.Error("audit record failed", "version", env.Version, "error", err)
		return
	}

	items := env.Items()
	for _, res := range results {
		if res.Status != "error" || res.Index >= len(items) {
			continue
		}
		if _, err := w.audit.Record(ctx, &audit.Delta{
			Version:   env.Version,
			Action:    env.Action,
			Type:      env.Type,
			Timestamp: env.Timestamp,
			Outcome:   audit.OutcomeFailed,
			Error:     res.Error,
			Payload:   items[res.Index],
		}); err != nil {
			w.log.Error("audit record failed", "version", env.Version, "error", err)
			return
		}
	}
}

// fail decides between requeue and poison. Shutdown is not a failure: the
// item stays in flight and the startup sweep restores it on the next run.
func (w *Worker) fail(ctx context.Context, item *queue.Item, env *change.Envelope, applyErr error) {
	if ctx.Err() != nil {
		w.log.Info("shutting down mid-apply, item stays in flight",
			"action", env.Action, "version", env.Version)
		return
	}

	key := bodyKey(item.Body)
	w.attempts[key]++
	attempt := w.attempts[key]

	if _, err := w.audit.Record(ctx, &audit.Delta{
		Version:   env.Version,
		Action:    env.Action,
		Type:      env.Type,
		Timestamp: env.Timestamp,
		Outcome:   audit.OutcomeFailed,
		Error:     applyErr.Error(),
		Payload:   env.Payload,
	}); err != nil {
		w.log.Error("audit record failed", "version", env.Version, "error", err)
	}

	if attempt >= w.poisonThreshold {
		delete(w.attempts, key)
		w.log.Error("item keeps failing, leaving it in flight",
			"action", env.Action, "version", env.Version,
			"attempts", attempt, "error", applyErr)
		return
	}

	w.log.Warn("apply failed, requeueing",
		"action", env.Action, "version", env.Version,
		"attempt", attempt, "error", applyErr)
	if err := w.queue.Requeue(ctx, item); err != nil {
		w.log.Error("requeue failed", "queue_id", item.ID, "error", err)
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(failurePause):
	}
}

func bodyKey(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
