package agent

import (
	"github.com/mesutfelat/cowork-oss-sub009/internal/connectors"
	"github.com/mesutfelat/cowork-oss-sub009/internal/dedup"
	"github.com/mesutfelat/cowork-oss-sub009/internal/filetracker"
	"github.com/mesutfelat/cowork-oss-sub009/internal/logger"
	"github.com/mesutfelat/cowork-oss-sub009/internal/models"
	"github.com/mesutfelat/cowork-oss-sub009/internal/orchestrator"
	"github.com/mesutfelat/cowork-oss-sub009/internal/tools"
)

// Deps are shared by every executor a factory builds.
type Deps struct {
	Registry    *tools.Registry
	Connector   connectors.Connector
	Planner     Planner
	Dedup       dedup.Config
	FileTracker filetracker.Config
	MaxSteps    int
	Logger      *logger.Logger
}

// NewFactory returns an ExecutorFactory. Each executor gets its own
// deduplicator and file tracker so tasks never suppress each other's calls.
func NewFactory(deps Deps) orchestrator.ExecutorFactory {
	if deps.Registry == nil {
		deps.Registry = tools.NewDefaultRegistry()
	}
	if deps.Planner == nil {
		deps.Planner = DirectivePlanner{}
	}
	return func(task *models.Task, ws *models.Workspace, host orchestrator.Host) orchestrator.Executor {
		return New(task, ws, host, deps.Planner, deps.Registry,
			WithConnector(deps.Connector),
			WithDeduplicator(dedup.New(deps.Dedup)),
			WithTracker(filetracker.New(deps.FileTracker)),
			WithMaxSteps(deps.MaxSteps),
			WithLogger(deps.Logger),
		)
	}
}
