package realtime

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kalambet/appraise/internal/metrics"
	"github.com/kalambet/appraise/internal/report"
	"github.com/kalambet/appraise/internal/storage"
)

// Source is the read side of the report store.
type Source interface {
	ListReportsByOwner(uid string) ([]report.Report, error)
	GetReport(id string) (report.Report, error)
}

// Hub is the in-process Watcher. Register Notify as the store's change hook.
type Hub struct {
	src     Source
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	closed   bool
	byOwner  map[string]map[*hubSub]struct{}
	byReport map[string]map[*hubSub]struct{}
}

// NewHub creates a Hub reading snapshots from src.
func NewHub(src Source, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		src:      src,
		logger:   logger,
		metrics:  metrics.Default(),
		byOwner:  make(map[string]map[*hubSub]struct{}),
		byReport: make(map[string]map[*hubSub]struct{}),
	}
}

// Notify wakes every subscription watching ownerID's list or the reportID
// document. It never blocks on subscribers.
func (h *Hub) Notify(ownerID, reportID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.byOwner[ownerID] {
		s.wakeup()
	}
	for s := range h.byReport[reportID] {
		s.wakeup()
	}
}

func (h *Hub) WatchOwner(ownerID string, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	push := func() error {
		reports, err := h.src.ListReportsByOwner(ownerID)
		if err != nil {
			return fmt.Errorf("listing reports for %s: %w", ownerID, err)
		}
		onSnapshot(reports)
		return nil
	}
	return h.subscribe(KindOwner, ownerID, h.byOwner, push, onError)
}

func (h *Hub) WatchReport(reportID string, onDocument DocumentFunc, onError ErrorFunc) (Subscription, error) {
	if reportID == "" {
		return nil, fmt.Errorf("report id is required")
	}
	push := func() error {
		r, err := h.src.GetReport(reportID)
		if errors.Is(err, storage.ErrNotFound) {
			onDocument(report.Report{ID: reportID}, false)
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading report %s: %w", reportID, err)
		}
		onDocument(r, true)
		return nil
	}
	return h.subscribe(KindReport, reportID, h.byReport, push, onError)
}

// Close cancels every open subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var subs []*hubSub
	for _, set := range []map[string]map[*hubSub]struct{}{h.byOwner, h.byReport} {
		for _, m := range set {
			for s := range m {
				subs = append(subs, s)
			}
		}
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
}

// Active returns the number of open subscriptions.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.byOwner {
		n += len(m)
	}
	for _, m := range h.byReport {
		n += len(m)
	}
	return n
}

func (h *Hub) subscribe(kind, key string, index map[string]map[*hubSub]struct{}, push func() error, onError ErrorFunc) (Subscription, error) {
	s := &hubSub{
		hub:     h,
		kind:    kind,
		key:     key,
		index:   index,
		push:    push,
		onError: onError,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	m, ok := index[key]
	if !ok {
		m = make(map[*hubSub]struct{})
		index[key] = m
	}
	m[s] = struct{}{}
	h.mu.Unlock()

	h.metrics.SubscriptionOpened(kind)
	h.logger.Debug("subscription opened", "kind", kind, "key", key)

	// Initial snapshot.
	s.wakeup()
	go s.loop()
	return s, nil
}

func (h *Hub) remove(s *hubSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := s.index[s.key]; ok {
		delete(m, s)
		if len(m) == 0 {
			delete(s.index, s.key)
		}
	}
}

type hubSub struct {
	hub     *Hub
	kind    string
	key     string
	index   map[string]map[*hubSub]struct{}
	push    func() error
	onError ErrorFunc

	// wake holds at most one pending notification; further changes while
	// one is pending coalesce into it.
	wake chan struct{}
	done chan struct{}

	cancelOnce sync.Once
	cancelled  atomic.Bool
	deliverMu  sync.Mutex
}

func (s *hubSub) wakeup() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *hubSub) loop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			s.deliver()
		}
	}
}

func (s *hubSub) deliver() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.cancelled.Load() {
		return
	}
	if err := s.push(); err != nil {
		s.hub.logger.Warn("subscription push failed", "kind", s.kind, "key", s.key, "error", err)
		if s.onError != nil {
			s.onError(err)
		}
		return
	}
	s.hub.metrics.RecordPush(s.kind)
}

func (s *hubSub) Cancel() {
	s.cancelOnce.Do(func() {
		s.cancelled.Store(true)
		close(s.done)
		s.hub.remove(s)
		s.hub.metrics.SubscriptionClosed(s.kind)
		s.hub.logger.Debug("subscription cancelled", "kind", s.kind, "key", s.key)
	})
	// Wait out a delivery that started before the flag was set.
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
}
