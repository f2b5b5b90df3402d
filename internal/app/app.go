package app

import (
	"context"
	"net/http"

	"github.com/shandysiswandi/schemabus/internal/pkg/clock"
	"github.com/shandysiswandi/schemabus/internal/pkg/config"
	"github.com/shandysiswandi/schemabus/internal/pkg/goroutine"
	"github.com/shandysiswandi/schemabus/internal/pkg/instrument"
	"github.com/shandysiswandi/schemabus/internal/pkg/messaging"
	"github.com/shandysiswandi/schemabus/internal/pkg/router"
	"github.com/shandysiswandi/schemabus/internal/pkg/schema"
	"github.com/shandysiswandi/schemabus/internal/pkg/uid"
	"github.com/shandysiswandi/schemabus/internal/pkg/validator"
)

// App wires dependencies and manages service lifecycle.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	// configuration
	config config.Config
	ins    instrument.Instrumentation

	// libraries
	goroutine *goroutine.Manager
	validator validator.Validator
	clock     clock.Clocker
	uid       uid.NumberID
	uuid      uid.StringID
	codec     *schema.Codec

	// resources
	broker messaging.Broker

	// server
	router     *router.Router
	httpServer *http.Server

	//
	closers []struct {
		name string
		fn   func(context.Context) error
	}
}

// New initializes the application with default wiring and returns an App instance.
func New() *App {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		ctx:    ctx,
		cancel: cancel,
	}

	app.initConfig()
	app.initInstrument()
	app.initLibraries()
	app.initBroker()
	app.initHTTPServer()
	app.initModules()
	app.initClosers()

	return app
}
