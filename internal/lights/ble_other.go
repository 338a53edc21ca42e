//go:build !linux && !darwin

package lights

import (
	"context"

	"github.com/kpelzel/sacnproxy/internal/config"
)

func connectToLights(map[string]config.Light) (map[string]device, error) {
	return nil, ErrUnsupported
}

func Scan(context.Context) error {
	return ErrUnsupported
}
