package bootstrap

import (
	"context"
	"fmt"

	coreconfig "github.com/m3rciful/telemenu/core/config"
	"github.com/m3rciful/telemenu/core/logger"
	"github.com/m3rciful/telemenu/core/storage"
)

// Options control the generic bootstrap pipeline shared between bots.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	OpenStore  func(context.Context, *coreconfig.Config) (storage.Store, error)
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	Store storage.Store
}

// Run initializes the logger and opens the configured session store.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	openStore := opts.OpenStore
	if openStore == nil {
		openStore = OpenStore
	}
	store, err := openStore(ctx, opts.Config)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: session store initialization failed: %w", err)
	}

	return &Result{Store: store}, nil
}
