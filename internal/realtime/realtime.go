// Package realtime delivers live report snapshots to subscribers.
//
// A subscription pushes one snapshot right after it is opened and one more
// after every change to the data it watches. Snapshots are read fresh at
// delivery time, so a burst of changes may arrive as a single push carrying
// the latest state. Callbacks for one subscription never run concurrently.
package realtime

import (
	"errors"

	"github.com/kalambet/appraise/internal/report"
)

// Subscription kinds, used as metric labels and wire frame types.
const (
	KindOwner  = "owner"
	KindReport = "report"
)

// ErrClosed is returned when subscribing on a closed watcher.
var ErrClosed = errors.New("watcher closed")

// SnapshotFunc receives the full owner-scoped report list.
type SnapshotFunc func(reports []report.Report)

// DocumentFunc receives the full watched document. exists is false when the
// record is absent.
type DocumentFunc func(r report.Report, exists bool)

// ErrorFunc receives subscription failures. The subscription stays open;
// a later successful push supersedes the error.
type ErrorFunc func(err error)

// Subscription is a live server push stream.
type Subscription interface {
	// Cancel stops the stream. When Cancel returns, no callback of this
	// subscription is running and none will run again. Cancel is idempotent
	// and must not be called from within the subscription's own callbacks.
	Cancel()
}

// Watcher opens live subscriptions.
type Watcher interface {
	WatchOwner(ownerID string, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error)
	WatchReport(reportID string, onDocument DocumentFunc, onError ErrorFunc) (Subscription, error)
}
