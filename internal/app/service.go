package app

import (
	"github.com/dshills/negstation/internal/artifact"
	"github.com/dshills/negstation/internal/httpapi"
	"github.com/dshills/negstation/internal/pipeline"
)

// The Application serves the inspection API directly.
var _ httpapi.Service = (*Application)(nil)

// Stages implements httpapi.Service.
func (app *Application) Stages() pipeline.Structure {
	return app.registry.Stages()
}

// Artifact implements httpapi.Service.
func (app *Application) Artifact(id pipeline.StageID, tier pipeline.Tier) *artifact.Artifact {
	return app.registry.Artifact(id, tier)
}

// RunFullResolution implements httpapi.Service.
func (app *Application) RunFullResolution() {
	app.registry.RunFullResolution()
}

// Convert implements httpapi.Service. A source is created when the
// session has none.
func (app *Application) Convert(path string) error {
	src, err := app.EnsureSource()
	if err != nil {
		return err
	}
	return src.Open(path)
}

// Status implements httpapi.Service.
func (app *Application) Status() httpapi.Status {
	return httpapi.Status{
		Stages:     app.registry.Len(),
		Bus:        app.bus.Stats(),
		Converters: app.ConverterStats(),
	}
}

// Ready implements httpapi.Service.
func (app *Application) Ready() bool {
	return app.ready.Load()
}
