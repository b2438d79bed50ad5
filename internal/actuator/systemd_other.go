//go:build !linux

package actuator

import (
	"context"
	"errors"

	logx "pifan/pkg/logx"
)

var ErrUnsupported = errors.New("actuator: systemd driver is linux only")

func OpenSystemd(ctx context.Context, cfg SystemdConfig, log logx.Logger) (*Systemd, error) {
	return nil, ErrUnsupported
}
