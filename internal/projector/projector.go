package projector

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/appraise/internal/realtime"
	"github.com/kalambet/appraise/internal/report"
	"github.com/kalambet/appraise/internal/session"
)

// View is a consistent snapshot of the live projector state.
type View struct {
	ReportID   string
	Exists     bool
	Projection Projection
	Err        error
}

// Projector keeps the stage view of one selected report in sync with its
// live document subscription.
type Projector struct {
	sess    session.Session
	watcher realtime.Watcher
	opts    Options
	logger  *slog.Logger

	mu        sync.Mutex
	gen       uint64
	sub       realtime.Subscription
	view      View
	listeners []func()
}

func New(sess session.Session, w realtime.Watcher, opts Options, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		sess:    sess,
		watcher: w,
		opts:    opts,
		logger:  logger,
		view:    View{Projection: Project(nil, opts)},
	}
}

// Activate switches the projector to reportID. The previous subscription is
// cancelled before the new one opens, so no push for the old report is
// applied once Activate returns.
func (p *Projector) Activate(reportID string) error {
	if !p.sess.Valid() {
		return session.ErrNoSession
	}
	if reportID == "" {
		return errors.New("report id is required")
	}

	p.mu.Lock()
	p.gen++
	gen := p.gen
	old := p.sub
	p.sub = nil
	p.view = View{ReportID: reportID, Projection: Project(nil, p.opts)}
	p.mu.Unlock()

	if old != nil {
		old.Cancel()
	}

	sub, err := p.watcher.WatchReport(reportID,
		func(r report.Report, exists bool) { p.apply(gen, r, exists) },
		func(err error) { p.fail(gen, err) },
	)
	if err != nil {
		err = fmt.Errorf("watching report %s: %w", reportID, err)
		p.fail(gen, err)
		return err
	}

	p.mu.Lock()
	if p.gen != gen {
		// Superseded while subscribing.
		p.mu.Unlock()
		sub.Cancel()
		return nil
	}
	p.sub = sub
	p.mu.Unlock()

	p.logger.Debug("projector activated", "report_id", reportID)
	p.notify()
	return nil
}

// Deactivate cancels the live subscription and clears the view.
func (p *Projector) Deactivate() {
	p.mu.Lock()
	p.gen++
	old := p.sub
	p.sub = nil
	p.view = View{Projection: Project(nil, p.opts)}
	p.mu.Unlock()

	if old != nil {
		old.Cancel()
		p.notify()
	}
}

// Current returns the current view.
func (p *Projector) Current() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

// OnChange registers fn to run after every view change.
func (p *Projector) OnChange(fn func()) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

func (p *Projector) apply(gen uint64, r report.Report, exists bool) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.view.Exists = exists
	p.view.Projection = Project(r.Fields, p.opts)
	p.view.Err = nil
	p.mu.Unlock()
	p.notify()
}

func (p *Projector) fail(gen uint64, err error) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.view.Err = err
	p.mu.Unlock()
	p.logger.Warn("report subscription error", "report_id", p.Current().ReportID, "error", err)
	p.notify()
}

func (p *Projector) notify() {
	p.mu.Lock()
	fns := make([]func(), len(p.listeners))
	copy(fns, p.listeners)
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
