// Package container wires repositories, the execution machinery and
// services together once at startup.
package container

import (
	"context"
	"fmt"

	"github.com/lyzr/agentflow/cmd/agentflow/compiler"
	"github.com/lyzr/agentflow/cmd/agentflow/engine"
	"github.com/lyzr/agentflow/cmd/agentflow/events"
	"github.com/lyzr/agentflow/cmd/agentflow/provider"
	"github.com/lyzr/agentflow/cmd/agentflow/repository"
	"github.com/lyzr/agentflow/cmd/agentflow/service"
	"github.com/lyzr/agentflow/cmd/agentflow/tools"
	"github.com/lyzr/agentflow/common/bootstrap"
	"github.com/lyzr/agentflow/common/ratelimit"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Execution machinery
	Registry  *tools.Registry
	Providers *provider.Factory
	Compiler  *compiler.Compiler
	Engine    *engine.Engine
	Hub       *events.Hub
	Relay     events.Emitter
	Limiter   *ratelimit.Limiter

	// Repositories
	AgentRepo      *repository.AgentRepository
	ToolRepo       *repository.ToolRepository
	WorkflowRepo   *repository.WorkflowRepository
	ExecutionRepo  *repository.ExecutionRepository
	StepRepo       *repository.StepRepository
	CheckpointRepo *repository.CheckpointRepository

	// Services
	AgentService     *service.AgentService
	ToolService      *service.ToolService
	WorkflowService  *service.WorkflowService
	ExecutionService *service.ExecutionService
}

// NewContainer initializes all repositories and services once
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	// Create tables before anything touches them. The checkpoint table
	// lives on its own database when one is configured.
	if err := repository.Setup(ctx, components.DB); err != nil {
		return nil, fmt.Errorf("failed to set up entity tables: %w", err)
	}
	checkpointRepo := repository.NewCheckpointRepository(components.CheckpointDB)
	if err := checkpointRepo.Setup(ctx); err != nil {
		return nil, fmt.Errorf("failed to set up checkpoint table: %w", err)
	}

	// Initialize repositories
	agentRepo := repository.NewAgentRepository(components.DB)
	toolRepo := repository.NewToolRepository(components.DB)
	workflowRepo := repository.NewWorkflowRepository(components.DB)
	executionRepo := repository.NewExecutionRepository(components.DB)
	stepRepo := repository.NewStepRepository(components.DB)

	// Execution machinery (bottom-up: dependencies first)
	registry := tools.NewRegistry(tools.Config{
		FileWriterDir: cfg.Tools.FileWriterDir,
		MistralAPIKey: cfg.Providers.MistralAPIKey,
	}, log)
	providers := provider.NewFactory(cfg.Providers, log)
	comp := compiler.New(repository.NewStore(workflowRepo, agentRepo), providers, registry, log)
	eng := engine.New(repository.NewRecorder(components.DB, components.CheckpointDB), log)

	hub := events.NewHub(log)
	var relay events.Emitter
	var limiter *ratelimit.Limiter
	if components.Redis != nil {
		relay = events.NewRelay(components.Redis, log)
		if cfg.RateLimit.Enabled {
			limiter = ratelimit.New(components.Redis.GetUnderlying(), log)
		}
	}

	// Initialize services
	toolService := service.NewToolService(toolRepo, registry, log)
	agentService := service.NewAgentService(agentRepo, toolRepo, log)
	workflowService := service.NewWorkflowService(workflowRepo, comp, log)
	executionService := service.NewExecutionService(
		executionRepo,
		stepRepo,
		workflowRepo,
		comp,
		eng,
		hub,
		relay,
		limiter,
		log,
	)

	return &Container{
		Components:       components,
		Registry:         registry,
		Providers:        providers,
		Compiler:         comp,
		Engine:           eng,
		Hub:              hub,
		Relay:            relay,
		Limiter:          limiter,
		AgentRepo:        agentRepo,
		ToolRepo:         toolRepo,
		WorkflowRepo:     workflowRepo,
		ExecutionRepo:    executionRepo,
		StepRepo:         stepRepo,
		CheckpointRepo:   checkpointRepo,
		AgentService:     agentService,
		ToolService:      toolService,
		WorkflowService:  workflowService,
		ExecutionService: executionService,
	}, nil
}
