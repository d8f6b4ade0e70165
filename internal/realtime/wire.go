package realtime

import (
	"log/slog"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/kalambet/appraise/internal/report"
)

// Frame types pushed over a watch connection.
const (
	FrameSnapshot = "snapshot"
	FrameDocument = "document"
	FrameError    = "error"
)

// Frame is one server push on a watch connection.
type Frame struct {
	Type    string          `json:"type"`
	Reports []report.Report `json:"reports,omitempty"`
	Report  *report.Report  `json:"report,omitempty"`
	Exists  bool            `json:"exists,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ServeOwner streams ownerID's report list over ws until the client disconnects.
func ServeOwner(ws *websocket.Conn, w Watcher, ownerID string, logger *slog.Logger) {
	serve(ws, logger, func(send func(Frame)) (Subscription, error) {
		return w.WatchOwner(ownerID,
			func(reports []report.Report) {
				send(Frame{Type: FrameSnapshot, Reports: reports})
			},
			func(err error) {
				send(Frame{Type: FrameError, Error: err.Error()})
			})
	})
}

// ServeReport streams one report document over ws until the client disconnects.
func ServeReport(ws *websocket.Conn, w Watcher, reportID string, logger *slog.Logger) {
	serve(ws, logger, func(send func(Frame)) (Subscription, error) {
		return w.WatchReport(reportID,
			func(r report.Report, exists bool) {
				f := Frame{Type: FrameDocument, Exists: exists}
				if exists {
					f.Report = &r
				}
				send(f)
			},
			func(err error) {
				send(Frame{Type: FrameError, Error: err.Error()})
			})
	})
}

func serve(ws *websocket.Conn, logger *slog.Logger, open func(send func(Frame)) (Subscription, error)) {
	if logger == nil {
		logger = slog.Default()
	}

	var sendMu sync.Mutex
	send := func(f Frame) {
		sendMu.Lock()
		defer sendMu.Unlock()
		if err := websocket.JSON.Send(ws, f); err != nil {
			logger.Debug("watch send failed", "error", err)
		}
	}

	sub, err := open(send)
	if err != nil {
		send(Frame{Type: FrameError, Error: err.Error()})
		return
	}
	defer sub.Cancel()

	// Clients never send frames; a read error means they went away.
	var discard []byte
	for {
		if err := websocket.Message.Receive(ws, &discard); err != nil {
			return
		}
	}
}
