package db

import (
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// NewListener subscribes to a Postgres NOTIFY channel. The returned
// listener reconnects on its own; callers read from l.Notify and should
// treat a nil notification as "connection was re-established, re-scan".
func NewListener(dsn, channel string, logger *zap.SugaredLogger) (*pq.Listener, error) {
	onEvent := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			logger.Infow("pg listener connected", "channel", channel)
		case pq.ListenerEventDisconnected:
			logger.Warnw("pg listener disconnected", "channel", channel, "err", err)
		case pq.ListenerEventReconnected:
			logger.Infow("pg listener reconnected", "channel", channel)
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warnw("pg listener connect attempt failed", "channel", channel, "err", err)
		}
	}

	l := pq.NewListener(dsn, 2*time.Second, time.Minute, onEvent)
	if err := l.Listen(channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	return l, nil
}
