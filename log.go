package hotpatch

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var loggerVal atomic.Pointer[zap.Logger]

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	loggerVal.Store(l)
}

// logger returns the package-wide structured logger.
func logger() *zap.Logger {
	return loggerVal.Load()
}

// SetLogger installs l as the package-wide structured logger. Passing
// nil restores the default production logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		var err error
		l, err = zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}
	}
	loggerVal.Store(l)
}
