package cmd

import (
	"log/slog"

	"github.com/nextlevelbuilder/agentcore/internal/channeladapter"
	"github.com/nextlevelbuilder/agentcore/internal/engine"
	"github.com/nextlevelbuilder/agentcore/internal/runprocess"
	"github.com/nextlevelbuilder/agentcore/internal/scheduler"
)

// makeRunFactory closes over the run process's shared collaborators and
// produces a scheduler.RunFactory: one runprocess.Process per dispatched
// Job, driven through the engine named by job.EngineHint.
func makeRunFactory(deps runprocess.Deps, adapter channeladapter.Adapter) scheduler.RunFactory {
	return func(job scheduler.Job) scheduler.Runner {
		engineAdapter, ok := deps.Engines.Get(job.EngineHint)
		if !ok {
			engineAdapter, ok = deps.Engines.Default()
			if !ok {
				slog.Error("runfactory.no_engine_available", "hint", job.EngineHint)
				return nil
			}
		}

		var resume *engine.ResumeToken
		if job.Resume != nil {
			resume = &engine.ResumeToken{EngineID: job.Resume.EngineID, Value: job.Resume.Value}
		}

		runID := job.Meta["run_id"]
		opts := engine.RunOpts{Model: job.Model, Cwd: job.Cwd, Meta: job.Meta}

		return runprocess.New(deps, runID, job.SessionKey, job.Channel, engineAdapter, job.Text, resume, opts, adapter)
	}
}
