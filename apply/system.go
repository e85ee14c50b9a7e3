package apply

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// SystemManager drives the service manager. Calls are fallible but
// non-cancelable steps executed in a fixed order.
type SystemManager interface {
	DaemonReload(ctx context.Context) error
	Restart(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
}

// Systemctl is the systemd-backed SystemManager. Transient failures
// (socket not ready right after an image swap) are retried with
// exponential backoff.
type Systemctl struct {
	log      *zap.SugaredLogger
	maxTries uint
}

// NewSystemctl creates a systemd service manager.
func NewSystemctl(log *zap.SugaredLogger) *Systemctl {
	return &Systemctl{log: log, maxTries: 3}
}

func (m *Systemctl) run(ctx context.Context, args ...string) error {
	operation := func() (struct{}, error) {
		out, err := exec.CommandContext(ctx, "systemctl", args...).CombinedOutput()
		if err != nil {
			m.log.Warnw("systemctl failed, retrying",
				zap.Strings("args", args),
				zap.ByteString("output", out),
				zap.Error(err),
			)
			return struct{}{}, fmt.Errorf("systemctl %v: %w: %s", args, err, out)
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(m.maxTries),
		backoff.WithMaxElapsedTime(30*time.Second),
	)
	return err
}

func (m *Systemctl) DaemonReload(ctx context.Context) error {
	return m.run(ctx, "daemon-reload")
}

func (m *Systemctl) Restart(ctx context.Context, unit string) error {
	return m.run(ctx, "restart", unit)
}

func (m *Systemctl) Stop(ctx context.Context, unit string) error {
	return m.run(ctx, "stop", unit)
}
