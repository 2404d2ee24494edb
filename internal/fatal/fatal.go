// Package fatal centralizes the "programmer error, abort process" error
// class named in spec §7: SPSC ring overflow, arena exhaustion, an unknown
// request type, a response with no owning session, a misaligned frame.
// These are never retried and never surfaced as a Go error — they are
// logged at fatal level and the process exits, because continuing risks
// silent state drift.
package fatal

import (
	"go.uber.org/zap"

	"github.com/ejyy/femto/internal/logging"
)

// On logs msg at fatal level and terminates the process (zap.Logger.Fatal
// calls os.Exit(1) after writing the entry).
func On(log *logging.Logger, msg string, fields ...zap.Field) {
	log.Fatal(msg, fields...)
}

// Recover, deferred at the top of a ring-consuming loop, converts a
// NextForWrite panic (ring capacity exceeded) into the same fatal path so
// every programmer error in the data path is reported through the owning
// thread's logger rather than an unhandled panic backtrace.
func Recover(log *logging.Logger, where string) {
	if r := recover(); r != nil {
		On(log, "fatal error", zap.String("where", where), zap.Any("panic", r))
	}
}
