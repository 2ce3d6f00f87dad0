package runtime

import (
	"context"

	"github.com/tjfontaine/taskgate/internal/pkg/config"
)

// staticConfig serves a fixed configuration.
type staticConfig struct {
	cfg *config.Config
}

func (s staticConfig) Load(context.Context) (*config.Config, error) {
	return s.cfg, nil
}

func (staticConfig) Watch(context.Context, func(*config.Config)) error {
	return nil
}

func (staticConfig) Close() error {
	return nil
}
