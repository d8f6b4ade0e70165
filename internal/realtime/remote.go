package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"

	"github.com/kalambet/appraise/internal/report"
)

const dialTimeout = 10 * time.Second

// Remote is a Watcher backed by the server's WebSocket watch endpoints.
// A dropped connection is reported to onError once and the stream ends.
type Remote struct {
	baseURL string
	token   string
	logger  *slog.Logger
}

// NewRemote creates a Remote for the API server at baseURL (http or https),
// authenticating with the session token.
func NewRemote(baseURL, token string, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		logger:  logger,
	}
}

func (r *Remote) WatchOwner(ownerID string, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error) {
	path := "/v1/reports/watch?owner=" + url.QueryEscape(ownerID)
	return r.dial(KindOwner, path, onError, func(f Frame) {
		if f.Type == FrameSnapshot {
			onSnapshot(f.Reports)
		}
	})
}

func (r *Remote) WatchReport(reportID string, onDocument DocumentFunc, onError ErrorFunc) (Subscription, error) {
	path := "/v1/reports/" + url.PathEscape(reportID) + "/watch"
	return r.dial(KindReport, path, onError, func(f Frame) {
		if f.Type != FrameDocument {
			return
		}
		if !f.Exists || f.Report == nil {
			onDocument(report.Report{ID: reportID}, false)
			return
		}
		onDocument(*f.Report, true)
	})
}

func (r *Remote) wsURL(path string) (string, string, error) {
	u, err := url.Parse(r.baseURL)
	if err != nil {
		return "", "", fmt.Errorf("parsing server url: %w", err)
	}
	origin := u.Scheme + "://" + u.Host
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	return u.Scheme + "://" + u.Host + u.Path + path, origin, nil
}

func (r *Remote) dial(kind, path string, onError ErrorFunc, handle func(Frame)) (Subscription, error) {
	target, origin, err := r.wsURL(path)
	if err != nil {
		return nil, err
	}
	cfg, err := websocket.NewConfig(target, origin)
	if err != nil {
		return nil, fmt.Errorf("building websocket config: %w", err)
	}
	cfg.Header.Set("Authorization", "Bearer "+r.token)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", path, err)
	}

	s := &remoteSub{
		conn:    conn,
		kind:    kind,
		handle:  handle,
		onError: onError,
		logger:  r.logger,
	}
	go s.loop()
	return s, nil
}

type remoteSub struct {
	conn    *websocket.Conn
	kind    string
	handle  func(Frame)
	onError ErrorFunc
	logger  *slog.Logger

	cancelOnce sync.Once
	cancelled  atomic.Bool
	deliverMu  sync.Mutex
}

func (s *remoteSub) loop() {
	for {
		var f Frame
		if err := websocket.JSON.Receive(s.conn, &f); err != nil {
			s.deliver(func() {
				s.logger.Warn("watch connection lost", "kind", s.kind, "error", err)
				if s.onError != nil {
					s.onError(fmt.Errorf("watch connection lost: %w", err))
				}
			})
			return
		}
		s.deliver(func() {
			if f.Type == FrameError {
				if s.onError != nil {
					s.onError(errors.New(f.Error))
				}
				return
			}
			s.handle(f)
		})
	}
}

func (s *remoteSub) deliver(fn func()) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.cancelled.Load() {
		return
	}
	fn()
}

func (s *remoteSub) Cancel() {
	s.cancelOnce.Do(func() {
		s.cancelled.Store(true)
		s.conn.Close()
	})
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
}
