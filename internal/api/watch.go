package api

import (
	"net/http"

	"golang.org/x/net/websocket"

	"github.com/kalambet/appraise/internal/realtime"
	"github.com/kalambet/appraise/internal/session"
)

// wsServer upgrades without an Origin check; SessionAuth has already run.
func wsServer(handler func(ws *websocket.Conn)) websocket.Server {
	return websocket.Server{
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   handler,
	}
}

func handleWatchOwner(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, _ := session.FromContext(r.Context())
		if owner := r.URL.Query().Get("owner"); owner != "" && owner != sess.UserID {
			httpError(w, http.StatusForbidden, errPermission, "reports of another user cannot be watched")
			return
		}
		logger := deps.Logger.With("owner_id", sess.UserID)
		logger.Debug("owner watch opened")
		wsServer(func(ws *websocket.Conn) {
			realtime.ServeOwner(ws, deps.Watcher, sess.UserID, logger)
			logger.Debug("owner watch closed")
		}).ServeHTTP(w, r)
	}
}

func handleWatchReport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, ok := ownedReport(deps, w, r)
		if !ok {
			return
		}
		logger := deps.Logger.With("report_id", rep.ID)
		logger.Debug("report watch opened")
		wsServer(func(ws *websocket.Conn) {
			realtime.ServeReport(ws, deps.Watcher, rep.ID, logger)
			logger.Debug("report watch closed")
		}).ServeHTTP(w, r)
	}
}
