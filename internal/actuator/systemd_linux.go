//go:build linux

package actuator

import (
	"context"
	"fmt"

	logx "pifan/pkg/logx"

	"github.com/coreos/go-systemd/v22/dbus"
)

func OpenSystemd(ctx context.Context, cfg SystemdConfig, log logx.Logger) (*Systemd, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	s, err := newSystemd(cfg, conn, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}
