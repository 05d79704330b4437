package logging

import (
	"fmt"
	"time"
)

// DebugStart logs "Start <op>" at debug level and returns a function that logs
// the outcome together with the elapsed time. Typical use:
//
//	done := logging.DebugStart(logger, "git push", "branch=%s", branch)
//	defer func() { done(err) }()
func DebugStart(logger *Logger, op string, format string, args ...interface{}) func(error) {
	if logger == nil {
		return func(error) {}
	}
	if format != "" {
		logger.Debug("Start %s: %s", op, fmt.Sprintf(format, args...))
	} else {
		logger.Debug("Start %s", op)
	}
	started := time.Now()
	return func(err error) {
		elapsed := time.Since(started).Round(time.Millisecond)
		if err != nil {
			logger.Debug("End %s (error=%v, duration=%s)", op, err, elapsed)
			return
		}
		logger.Debug("End %s (ok, duration=%s)", op, elapsed)
	}
}
