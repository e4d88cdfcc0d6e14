package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/cmd/agentflow/repository"
	"github.com/lyzr/agentflow/cmd/agentflow/tools"
	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/logger"
)

// ToolService manages tool definitions. Implementation references are
// checked against the registry at write time so a mistyped builtin
// fails the request instead of the first execution that touches it.
type ToolService struct {
	tools    *repository.ToolRepository
	registry *tools.Registry
	log      *logger.Logger
}

// NewToolService creates a new tool service
func NewToolService(repo *repository.ToolRepository, registry *tools.Registry, log *logger.Logger) *ToolService {
	return &ToolService{
		tools:    repo,
		registry: registry,
		log:      log,
	}
}

// Create registers a new tool definition
func (s *ToolService) Create(ctx context.Context, req *models.CreateToolRequest) (*models.Tool, error) {
	tool := &models.Tool{
		ID:             uuid.New(),
		Name:           req.Name,
		Description:    req.Description,
		Parameters:     req.Parameters,
		Implementation: req.Implementation,
		Config:         req.Config,
		CreatedAt:      time.Now().UTC(),
	}
	tool.UpdatedAt = tool.CreatedAt

	if err := s.checkImplementation(tool.Implementation); err != nil {
		return nil, err
	}

	if err := s.tools.Create(ctx, tool); err != nil {
		return nil, err
	}

	s.log.Info("tool created", "tool_id", tool.ID, "name", tool.Name, "implementation", tool.Implementation)
	return tool, nil
}

// Get returns a tool by id
func (s *ToolService) Get(ctx context.Context, id uuid.UUID) (*models.Tool, error) {
	return s.tools.GetByID(ctx, id)
}

// List returns one page of tools plus the total count
func (s *ToolService) List(ctx context.Context, page, pageSize int) ([]*models.Tool, int, error) {
	limit, offset := pageToRange(page, pageSize)
	return s.tools.List(ctx, limit, offset)
}

// Update applies the non-nil fields of req to an existing tool
func (s *ToolService) Update(ctx context.Context, id uuid.UUID, req *models.UpdateToolRequest) (*models.Tool, error) {
	tool, err := s.tools.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		tool.Name = *req.Name
	}
	if req.Description != nil {
		tool.Description = req.Description
	}
	if req.Parameters != nil {
		tool.Parameters = req.Parameters
	}
	if req.Implementation != nil {
		tool.Implementation = *req.Implementation
	}
	if req.Config != nil {
		tool.Config = req.Config
	}
	tool.UpdatedAt = time.Now().UTC()

	if err := s.checkImplementation(tool.Implementation); err != nil {
		return nil, err
	}

	if err := s.tools.Update(ctx, tool); err != nil {
		return nil, err
	}

	s.log.Info("tool updated", "tool_id", tool.ID, "name", tool.Name)
	return tool, nil
}

// Delete removes a tool; agent bindings cascade away with it
func (s *ToolService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.tools.Delete(ctx, id); err != nil {
		return err
	}

	s.log.Info("tool deleted", "tool_id", id)
	return nil
}

// checkImplementation validates the reference shape and, for builtins,
// that the named tool is registered in this deployment. Custom refs are
// only shape-checked since their instances may register later.
func (s *ToolService) checkImplementation(ref string) error {
	name, isBuiltin := strings.CutPrefix(ref, "builtin:")
	if !isBuiltin {
		if _, ok := strings.CutPrefix(ref, "custom:"); ok {
			return nil
		}
		return apperror.Validation("implementation must start with builtin: or custom:, got %q", ref)
	}
	for _, builtin := range s.registry.ListBuiltins() {
		if builtin == name {
			return nil
		}
	}
	return apperror.Validation("builtin tool %q is not available, registered: %s",
		name, strings.Join(s.registry.ListBuiltins(), ", "))
}

// pageToRange converts 1-based page/page_size into a LIMIT/OFFSET pair,
// clamping to the defaults when out of range.
func pageToRange(page, pageSize int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = models.DefaultPageSize
	}
	if pageSize > models.MaxPageSize {
		pageSize = models.MaxPageSize
	}
	return pageSize, (page - 1) * pageSize
}
