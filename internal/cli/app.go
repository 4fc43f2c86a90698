package cli

import (
	"fmt"

	"github.com/inkwellhq/inkwell/internal/broadcast"
	"github.com/inkwellhq/inkwell/internal/checkpoint"
	"github.com/inkwellhq/inkwell/internal/config"
	"github.com/inkwellhq/inkwell/internal/db"
	"github.com/inkwellhq/inkwell/internal/engine"
	"github.com/inkwellhq/inkwell/internal/gate"
	"github.com/inkwellhq/inkwell/internal/llm"
	"github.com/inkwellhq/inkwell/internal/quota"
	"github.com/inkwellhq/inkwell/internal/run"
	"github.com/inkwellhq/inkwell/internal/stage"
)

// app bundles the wired components every command works against.
type app struct {
	cfg        *config.Config
	db         *db.DB
	runs       *run.Store
	sessions   *checkpoint.Store
	bc         *broadcast.Broadcaster
	engine     *engine.Engine
	controller *checkpoint.Controller
}

// openApp loads config and wires stores, database, broadcaster, router,
// engine, and checkpoint controller.
func openApp() (*app, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", errs[0].Error())
	}

	dbPath, err := db.DefaultDBPath()
	if err != nil {
		return nil, err
	}
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	runs, err := run.DefaultStore()
	if err != nil {
		return nil, err
	}
	sessions, err := checkpoint.DefaultStore()
	if err != nil {
		return nil, err
	}

	bc := broadcast.New(database)
	router := llm.NewRouterFromConfig(cfg.LLM)
	stages := stage.Pipeline(router)
	qc := quota.NewDBChecker(database, cfg.Quota)

	eng := engine.New(runs, sessions, stages, bc, qc, nil, engine.Options{
		StageTimeout: cfg.Pipeline.StageTimeoutDuration(),
		Gate: gate.Policy{
			Threshold:      cfg.Pipeline.QualityThreshold,
			MaxRefinements: cfg.Pipeline.MaxRefinements,
		},
		DefaultModel: cfg.Pipeline.DefaultModel,
	})
	ctrl := checkpoint.NewController(sessions, eng, cfg.Pipeline.SessionExpiryDuration())

	return &app{
		cfg:        cfg,
		db:         database,
		runs:       runs,
		sessions:   sessions,
		bc:         bc,
		engine:     eng,
		controller: ctrl,
	}, nil
}

// Close releases the app's database handle.
func (a *app) Close() error {
	return a.db.Close()
}
