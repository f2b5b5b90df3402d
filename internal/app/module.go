package app

import (
	"log/slog"
	"os"

	"github.com/shandysiswandi/schemabus/internal/pipeline"
)

func (a *App) initModules() {
	if !a.config.GetBool("modules.pipeline.enabled") {
		return
	}

	if err := pipeline.New(pipeline.Dependency{
		Ctx:        a.ctx,
		Broker:     a.broker,
		Codec:      a.codec,
		Router:     a.router,
		Goroutine:  a.goroutine,
		Config:     a.config,
		Instrument: a.ins,
		Validator:  a.validator,
	}); err != nil {
		slog.Error("failed to init module pipeline", "error", err)
		os.Exit(1)
	}
}
