package dashboard

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/appraise/internal/feed"
	"github.com/kalambet/appraise/internal/projector"
	"github.com/kalambet/appraise/internal/realtime"
	"github.com/kalambet/appraise/internal/report"
	"github.com/kalambet/appraise/internal/session"
)

// View is everything the renderer needs, captured at one point in time.
type View struct {
	User     session.Session
	Reports  []report.Report
	Selected string
	FeedErr  error
	Stages   projector.View
}

// SelectedReport returns the selected report from the list, if present.
func (v View) SelectedReport() (report.Report, bool) {
	for _, r := range v.Reports {
		if r.ID == v.Selected {
			return r, true
		}
	}
	return report.Report{}, false
}

type Dashboard struct {
	sess   session.Session
	sel    *feed.Selection
	feed   *feed.Feed
	proj   *projector.Projector
	logger *slog.Logger

	startOnce sync.Once

	// runMu orders projector activation against Stop.
	runMu   sync.Mutex
	running bool

	mu        sync.Mutex
	listeners []func()
}

func New(sess session.Session, w realtime.Watcher, opts projector.Options, logger *slog.Logger) *Dashboard {
	if logger == nil {
		logger = slog.Default()
	}
	sel := &feed.Selection{}
	return &Dashboard{
		sess:   sess,
		sel:    sel,
		feed:   feed.New(sess, w, sel, logger),
		proj:   projector.New(sess, w, opts, logger),
		logger: logger,
	}
}

// Start activates the feed for the session user. Every selection change,
// automatic or by the user, re-activates the projector on the new report. A
// selection kept from before a Stop is projected again.
func (d *Dashboard) Start() error {
	d.startOnce.Do(func() {
		d.sel.OnChange(d.onSelect)
		d.feed.OnChange(d.notify)
		d.proj.OnChange(d.notify)
	})

	d.runMu.Lock()
	d.running = true
	d.runMu.Unlock()

	d.sel.Replay()
	return d.feed.Activate(d.sess.UserID)
}

func (d *Dashboard) onSelect(id string) {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if !d.running {
		return
	}
	if id == "" {
		d.proj.Deactivate()
		return
	}
	if err := d.proj.Activate(id); err != nil {
		d.logger.Warn("activating projector", "report_id", id, "error", err)
	}
}

// Select makes id the selected report.
func (d *Dashboard) Select(id string) {
	d.sel.Select(id)
}

// SelectIndex selects the report at the 1-based position of the current list.
func (d *Dashboard) SelectIndex(n int) error {
	reports := d.feed.Reports()
	if n < 1 || n > len(reports) {
		return fmt.Errorf("no report #%d (have %d)", n, len(reports))
	}
	d.Select(reports[n-1].ID)
	return nil
}

// Stop tears down both subscriptions. The selection survives for the next
// Start. No projector subscription is opened after Stop returns.
func (d *Dashboard) Stop() {
	d.runMu.Lock()
	d.running = false
	d.runMu.Unlock()

	d.feed.Deactivate()
	d.proj.Deactivate()
}

func (d *Dashboard) View() View {
	return View{
		User:     d.sess,
		Reports:  d.feed.Reports(),
		Selected: d.sel.Selected(),
		FeedErr:  d.feed.Err(),
		Stages:   d.proj.Current(),
	}
}

// OnChange registers fn to run whenever the view may have changed.
func (d *Dashboard) OnChange(fn func()) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

func (d *Dashboard) notify() {
	d.mu.Lock()
	fns := make([]func(), len(d.listeners))
	copy(fns, d.listeners)
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
