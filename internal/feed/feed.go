package feed

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/appraise/internal/realtime"
	"github.com/kalambet/appraise/internal/report"
	"github.com/kalambet/appraise/internal/session"
)

// ErrNoSession is returned when activating without a user.
var ErrNoSession = session.ErrNoSession

// Feed holds the latest owner-scoped report snapshot. Every push replaces the
// list as a whole.
type Feed struct {
	sess    session.Session
	watcher realtime.Watcher
	sel     *Selection
	logger  *slog.Logger

	mu        sync.Mutex
	gen       uint64
	sub       realtime.Subscription
	ownerID   string
	reports   []report.Report
	err       error
	listeners []func()
}

func New(sess session.Session, w realtime.Watcher, sel *Selection, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	if sel == nil {
		sel = &Selection{}
	}
	return &Feed{sess: sess, watcher: w, sel: sel, logger: logger}
}

// Selection returns the selection the feed auto-selects into.
func (f *Feed) Selection() *Selection {
	return f.sel
}

// Activate opens the owner-scoped subscription for ownerID, replacing any
// previous one.
func (f *Feed) Activate(ownerID string) error {
	if ownerID == "" || !f.sess.Valid() {
		return ErrNoSession
	}

	f.mu.Lock()
	f.gen++
	gen := f.gen
	old := f.sub
	f.sub = nil
	f.ownerID = ownerID
	f.reports = nil
	f.err = nil
	f.mu.Unlock()

	if old != nil {
		old.Cancel()
	}

	sub, err := f.watcher.WatchOwner(ownerID,
		func(reports []report.Report) { f.apply(gen, reports) },
		func(err error) { f.fail(gen, err) },
	)
	if err != nil {
		err = fmt.Errorf("watching reports of %s: %w", ownerID, err)
		f.fail(gen, err)
		return err
	}

	f.mu.Lock()
	if f.gen != gen {
		f.mu.Unlock()
		sub.Cancel()
		return nil
	}
	f.sub = sub
	f.mu.Unlock()

	f.logger.Debug("feed activated", "owner_id", ownerID)
	return nil
}

// Deactivate cancels the subscription. Call it on sign-out or teardown.
func (f *Feed) Deactivate() {
	f.mu.Lock()
	f.gen++
	old := f.sub
	f.sub = nil
	f.ownerID = ""
	f.reports = nil
	f.mu.Unlock()

	if old != nil {
		old.Cancel()
		f.notify()
	}
}

// Active reports whether a subscription is open.
func (f *Feed) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sub != nil
}

// Reports returns a copy of the latest snapshot.
func (f *Feed) Reports() []report.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]report.Report, len(f.reports))
	copy(out, f.reports)
	return out
}

// Err returns the last subscription error, cleared by the next push.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// OnChange registers fn to run after every list change.
func (f *Feed) OnChange(fn func()) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

func (f *Feed) apply(gen uint64, reports []report.Report) {
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return
	}
	f.reports = append([]report.Report(nil), reports...)
	f.err = nil
	f.mu.Unlock()

	if len(reports) > 0 {
		f.sel.SelectIfEmpty(reports[0].ID)
	}
	f.notify()
}

func (f *Feed) fail(gen uint64, err error) {
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return
	}
	f.err = err
	owner := f.ownerID
	f.mu.Unlock()

	f.logger.Warn("feed subscription error", "owner_id", owner, "error", err)
	f.notify()
}

func (f *Feed) notify() {
	f.mu.Lock()
	fns := make([]func(), len(f.listeners))
	copy(fns, f.listeners)
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
