package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/cmd/agentflow/repository"
	"github.com/lyzr/agentflow/common/logger"
)

// Defaults applied when an agent definition leaves model selection blank
const (
	defaultProvider    = models.ProviderOpenAI
	defaultModel       = "gpt-4o"
	defaultTemperature = 0.7
)

// AgentService manages agent definitions and their tool bindings
type AgentService struct {
	agents *repository.AgentRepository
	tools  *repository.ToolRepository
	log    *logger.Logger
}

// NewAgentService creates a new agent service
func NewAgentService(agents *repository.AgentRepository, tools *repository.ToolRepository, log *logger.Logger) *AgentService {
	return &AgentService{
		agents: agents,
		tools:  tools,
		log:    log,
	}
}

// Create registers a new agent. Referenced tool ids must all exist.
func (s *AgentService) Create(ctx context.Context, req *models.CreateAgentRequest) (*models.Agent, error) {
	agent := &models.Agent{
		ID:           uuid.New(),
		Name:         req.Name,
		Description:  req.Description,
		Provider:     req.Provider,
		Model:        req.Model,
		Instructions: req.Instructions,
		Temperature:  defaultTemperature,
		MaxTokens:    req.MaxTokens,
		OutputSchema: req.OutputSchema,
		CreatedAt:    time.Now().UTC(),
	}
	agent.UpdatedAt = agent.CreatedAt
	if agent.Provider == "" {
		agent.Provider = defaultProvider
	}
	if agent.Model == "" {
		agent.Model = defaultModel
	}
	if req.Temperature != nil {
		agent.Temperature = *req.Temperature
	}

	if err := s.validateToolIDs(ctx, req.ToolIDs); err != nil {
		return nil, err
	}

	if err := s.agents.Create(ctx, agent, req.ToolIDs); err != nil {
		return nil, err
	}

	s.log.Info("agent created",
		"agent_id", agent.ID,
		"name", agent.Name,
		"provider", agent.Provider,
		"model", agent.Model,
		"tools", len(req.ToolIDs))

	return s.agents.GetByID(ctx, agent.ID)
}

// Get returns an agent with its bound tools
func (s *AgentService) Get(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	return s.agents.GetByID(ctx, id)
}

// List returns one page of agents plus the total count
func (s *AgentService) List(ctx context.Context, page, pageSize int) ([]*models.Agent, int, error) {
	limit, offset := pageToRange(page, pageSize)
	return s.agents.List(ctx, limit, offset)
}

// Update applies the non-nil fields of req to an existing agent.
// A non-nil ToolIDs replaces the whole binding set.
func (s *AgentService) Update(ctx context.Context, id uuid.UUID, req *models.UpdateAgentRequest) (*models.Agent, error) {
	agent, err := s.agents.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.Description != nil {
		agent.Description = req.Description
	}
	if req.Provider != nil {
		agent.Provider = *req.Provider
	}
	if req.Model != nil {
		agent.Model = *req.Model
	}
	if req.Instructions != nil {
		agent.Instructions = *req.Instructions
	}
	if req.Temperature != nil {
		agent.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		agent.MaxTokens = req.MaxTokens
	}
	if req.OutputSchema != nil {
		agent.OutputSchema = req.OutputSchema
	}
	agent.UpdatedAt = time.Now().UTC()

	replaceTools := req.ToolIDs != nil
	if replaceTools {
		if err := s.validateToolIDs(ctx, req.ToolIDs); err != nil {
			return nil, err
		}
	}

	if err := s.agents.Update(ctx, agent, req.ToolIDs, replaceTools); err != nil {
		return nil, err
	}

	s.log.Info("agent updated", "agent_id", agent.ID, "name", agent.Name)
	return s.agents.GetByID(ctx, agent.ID)
}

// Delete removes an agent and its tool bindings
func (s *AgentService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.agents.Delete(ctx, id); err != nil {
		return err
	}

	s.log.Info("agent deleted", "agent_id", id)
	return nil
}

// ListTools returns the tools bound to an agent
func (s *AgentService) ListTools(ctx context.Context, agentID uuid.UUID) ([]*models.Tool, error) {
	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Tools == nil {
		return []*models.Tool{}, nil
	}
	return agent.Tools, nil
}

// BindTool attaches a tool to an agent; binding twice is a no-op
func (s *AgentService) BindTool(ctx context.Context, agentID, toolID uuid.UUID) (*models.Agent, error) {
	if _, err := s.agents.GetByID(ctx, agentID); err != nil {
		return nil, err
	}
	if _, err := s.tools.GetByID(ctx, toolID); err != nil {
		return nil, err
	}

	if err := s.agents.BindTool(ctx, agentID, toolID); err != nil {
		return nil, err
	}

	s.log.Info("tool bound", "agent_id", agentID, "tool_id", toolID)
	return s.agents.GetByID(ctx, agentID)
}

// UnbindTool detaches a tool from an agent
func (s *AgentService) UnbindTool(ctx context.Context, agentID, toolID uuid.UUID) error {
	if _, err := s.agents.GetByID(ctx, agentID); err != nil {
		return err
	}

	if err := s.agents.UnbindTool(ctx, agentID, toolID); err != nil {
		return err
	}

	s.log.Info("tool unbound", "agent_id", agentID, "tool_id", toolID)
	return nil
}

// validateToolIDs resolves every id so a dangling reference fails the
// write instead of surfacing at compile time.
func (s *AgentService) validateToolIDs(ctx context.Context, toolIDs []uuid.UUID) error {
	if len(toolIDs) == 0 {
		return nil
	}
	_, err := s.tools.GetByIDs(ctx, toolIDs)
	return err
}
