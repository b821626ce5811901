// Package registry implements the entity lifecycle for projects,
// experiments, runs, artifacts and validation sets. Every creation follows
// the same flow: allocate a version where the entity kind is versioned,
// persist the row, register its ACL, and compensate with a delete when the
// grant fails.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tracklab/tracklab/pkg/authz"
	"github.com/tracklab/tracklab/pkg/blobstore"
	"github.com/tracklab/tracklab/pkg/sequence"
)

// Authorizer is the slice of the authorization engine the lifecycle needs.
// Satisfied by *authz.Engine.
type Authorizer interface {
	GrantPermissionToNewProject(ctx context.Context, projectKey, principal string, permission authz.Permission) error
	GrantPermissionBasedOnProject(ctx context.Context, projectKey, objectID, objectType string) error
	CheckAccess(ctx context.Context, objectType, objectID, principal string, min authz.Permission) error
}

// Service coordinates entity persistence with versioning, authorization and
// file storage.
type Service struct {
	store   *Store
	acl     Authorizer
	counter *sequence.Counter
	files   *blobstore.FileStore
	logger  *slog.Logger
}

// NewService creates a Service.
func NewService(store *Store, acl Authorizer, counter *sequence.Counter, files *blobstore.FileStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, acl: acl, counter: counter, files: files, logger: logger}
}

// checkProjectAccess verifies the caller holds at least min on the project.
// Callers with no entry get ErrNotFound, preserving existence masking for
// every operation that goes through here.
func (s *Service) checkProjectAccess(ctx context.Context, projectKey string, min authz.Permission) error {
	principal := authz.CurrentPrincipalID(ctx)
	return s.acl.CheckAccess(ctx, authz.ObjectProject, projectKey, principal, min)
}

// ProjectDraft is the input for project creation.
type ProjectDraft struct {
	Key         string
	Name        string
	Description string
}

// CreateProject provisions the project's storage container, persists the
// row and grants the creating principal OWNER on the new root ACL. The
// container is created first because bucket creation is idempotent, while
// a project row without an ACL would need compensation.
func (s *Service) CreateProject(ctx context.Context, draft ProjectDraft) (*Project, error) {
	if draft.Key == "" || draft.Name == "" {
		return nil, fmt.Errorf("%w: project key and name are required", ErrInvalidInput)
	}
	principal := authz.CurrentPrincipalID(ctx)

	if err := s.files.CreateContainer(ctx, draft.Key); err != nil {
		return nil, fmt.Errorf("create container for project %s: %w", draft.Key, err)
	}

	return createAndAuthorize(ctx, s.logger,
		func(ctx context.Context) (*Project, error) {
			p := &Project{
				ID:          uuid.New().String(),
				Key:         draft.Key,
				Name:        draft.Name,
				Description: draft.Description,
				CreatedBy:   principal,
			}
			if err := s.store.CreateProject(ctx, p); err != nil {
				return nil, err
			}
			return p, nil
		},
		func(ctx context.Context, p *Project) error {
			return s.acl.GrantPermissionToNewProject(ctx, p.Key, principal, authz.PermissionOwner)
		},
		func(ctx context.Context, p *Project) error {
			return s.store.DeleteProjectByID(ctx, p.ID)
		},
	)
}

// GetProject returns a project visible to the caller.
func (s *Service) GetProject(ctx context.Context, projectKey string) (*Project, error) {
	if err := s.checkProjectAccess(ctx, projectKey, authz.PermissionViewer); err != nil {
		return nil, err
	}
	return s.store.GetProjectByKey(ctx, projectKey)
}

// ExperimentDraft is the input for experiment creation.
type ExperimentDraft struct {
	Name        string
	Description string
}

// CreateExperiment persists an experiment under the project and registers
// an inheriting ACL for it.
func (s *Service) CreateExperiment(ctx context.Context, projectKey string, draft ExperimentDraft) (*Experiment, error) {
	if draft.Name == "" {
		return nil, fmt.Errorf("%w: experiment name is required", ErrInvalidInput)
	}
	if err := s.checkProjectAccess(ctx, projectKey, authz.PermissionContributor); err != nil {
		return nil, err
	}
	principal := authz.CurrentPrincipalID(ctx)

	return createAndAuthorize(ctx, s.logger,
		func(ctx context.Context) (*Experiment, error) {
			e := &Experiment{
				ID:          uuid.New().String(),
				ProjectKey:  projectKey,
				Name:        draft.Name,
				Description: draft.Description,
				CreatedBy:   principal,
			}
			if err := s.store.CreateExperiment(ctx, e); err != nil {
				return nil, err
			}
			return e, nil
		},
		func(ctx context.Context, e *Experiment) error {
			return s.acl.GrantPermissionBasedOnProject(ctx, projectKey, e.ID, authz.ObjectExperiment)
		},
		func(ctx context.Context, e *Experiment) error {
			return s.store.DeleteExperimentByID(ctx, e.ID)
		},
	)
}

// ListExperiments returns the project's experiments.
func (s *Service) ListExperiments(ctx context.Context, projectKey string) ([]Experiment, error) {
	if err := s.checkProjectAccess(ctx, projectKey, authz.PermissionViewer); err != nil {
		return nil, err
	}
	return s.store.ListExperiments(ctx, projectKey)
}

// RunDraft is the input for run creation.
type RunDraft struct {
	ExperimentID string
	Name         string
	Params       map[string]string
}

// runScope is the counter scope for run numbers: one sequence per project.
func runScope(projectKey string) string {
	return projectKey + ".run"
}

// CreateRun allocates the next run number for the project, persists the run
// in RUNNING state and registers its ACL. The number is consumed even if a
// later step fails; run numbers may have gaps but never repeat.
func (s *Service) CreateRun(ctx context.Context, projectKey string, draft RunDraft) (*Run, error) {
	if draft.Name == "" {
		return nil, fmt.Errorf("%w: run name is required", ErrInvalidInput)
	}
	if err := s.checkProjectAccess(ctx, projectKey, authz.PermissionContributor); err != nil {
		return nil, err
	}
	if draft.ExperimentID != "" {
		exp, err := s.store.GetExperimentByID(ctx, draft.ExperimentID)
		if err != nil {
			return nil, fmt.Errorf("%w: experiment %s", ErrInvalidInput, draft.ExperimentID)
		}
		if exp.ProjectKey != projectKey {
			return nil, fmt.Errorf("%w: experiment %s belongs to another project", ErrInvalidInput, draft.ExperimentID)
		}
	}
	principal := authz.CurrentPrincipalID(ctx)

	number, err := s.counter.NextValue(ctx, runScope(projectKey))
	if err != nil {
		return nil, err
	}

	return createAndAuthorize(ctx, s.logger,
		func(ctx context.Context) (*Run, error) {
			r := &Run{
				ID:           uuid.New().String(),
				ProjectKey:   projectKey,
				ExperimentID: draft.ExperimentID,
				Name:         draft.Name,
				Number:       number,
				Status:       RunStatusRunning,
				Params:       draft.Params,
				StartedAt:    time.Now(),
				CreatedBy:    principal,
			}
			if err := s.store.CreateRun(ctx, r); err != nil {
				return nil, err
			}
			return r, nil
		},
		func(ctx context.Context, r *Run) error {
			return s.acl.GrantPermissionBasedOnProject(ctx, projectKey, r.ID, authz.ObjectRun)
		},
		func(ctx context.Context, r *Run) error {
			return s.store.DeleteRunByID(ctx, r.ID)
		},
	)
}

// GetRun returns a run visible to the caller.
func (s *Service) GetRun(ctx context.Context, projectKey, runID string) (*Run, error) {
	if err := s.checkProjectAccess(ctx, projectKey, authz.PermissionViewer); err != nil {
		return nil, err
	}
	return s.getProjectRun(ctx, projectKey, runID)
}

// ListRuns returns the project's runs.
func (s *Service) ListRuns(ctx context.Context, projectKey string) ([]Run, error) {
	if err := s.checkProjectAccess(ctx, projectKey, authz.PermissionViewer); err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, projectKey)
}

// getProjectRun loads a run and masks runs belonging to other projects.
func (s *Service) getProjectRun(ctx context.Context, projectKey, runID string) (*Run, error) {
	run, err := s.store.GetRunByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.ProjectKey != projectKey {
		return nil, ErrNotFound
	}
	return run, nil
}

// RunUpdate is a partial update of a run. A nil Status leaves the state
// unchanged; Params and Metrics merge into the existing maps.
type RunUpdate struct {
	Status  *RunStatus
	Params  map[string]string
	Metrics map[string]string
}

// UpdateRun mutates a run that is still RUNNING. Updating a terminal run
// fails with ErrConflict. A status change to COMPLETED or FAILED stamps the
// end time; RUNNING cannot be re-entered.
func (s *Service) UpdateRun(ctx context.Context, projectKey, runID string, update RunUpdate) (*Run, error) {
	if err := s.checkProjectAccess(ctx, projectKey, authz.PermissionContributor); err != nil {
		return nil, err
	}
	run, err := s.getProjectRun(ctx, projectKey, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != RunStatusRunning {
		return nil, fmt.Errorf("%w: run %s is %s", ErrConflict, runID, run.Status)
	}

	if update.Status != nil {
		next := *update.Status
		if !next.Terminal() {
			return nil, fmt.Errorf("%w: run status can only move to COMPLETED or FAILED", ErrInvalidInput)
		}
		now := time.Now()
		run.Status = next
		run.EndedAt = &now
	}
	if len(update.Params) > 0 {
		if run.Params == nil {
			run.Params = StringMap{}
		}
		for k, v := range update.Params {
			run.Params[k] = v
		}
	}
	if len(update.Metrics) > 0 {
		if run.Metrics == nil {
			run.Metrics = StringMap{}
		}
		for k, v := range update.Metrics {
			run.Metrics[k] = v
		}
	}

	// Guarded write: a concurrent writer that already ended the run turns
	// this into ErrConflict instead of silently resurrecting state.
	if err := s.store.UpdateRunIfRunning(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}
