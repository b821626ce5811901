package registry

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Store provides database operations for tracker entities.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the entity tables.
func (s *Store) AutoMigrate() error {
	for _, model := range []any{&Project{}, &Experiment{}, &Run{}, &Artifact{}, &ValidationSet{}} {
		if err := s.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("auto-migrate %T: %w", model, err)
		}
	}
	return nil
}

func notFoundOr(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CreateProject inserts a new project row.
func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create project %s: %w", p.Key, err)
	}
	return nil
}

// GetProjectByKey loads a project row. Returns ErrNotFound when absent.
func (s *Store) GetProjectByKey(ctx context.Context, key string) (*Project, error) {
	var p Project
	if err := s.db.WithContext(ctx).Where("project_key = ?", key).First(&p).Error; err != nil {
		return nil, notFoundOr(err, "get project "+key)
	}
	return &p, nil
}

// DeleteProjectByID removes a project row.
func (s *Store) DeleteProjectByID(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&Project{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	return nil
}

// CreateExperiment inserts a new experiment row.
func (s *Store) CreateExperiment(ctx context.Context, e *Experiment) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("create experiment %s: %w", e.Name, err)
	}
	return nil
}

// GetExperimentByID loads an experiment row. Returns ErrNotFound when absent.
func (s *Store) GetExperimentByID(ctx context.Context, id string) (*Experiment, error) {
	var e Experiment
	if err := s.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "get experiment "+id)
	}
	return &e, nil
}

// ListExperiments returns all experiments of a project in creation order.
func (s *Store) ListExperiments(ctx context.Context, projectKey string) ([]Experiment, error) {
	var list []Experiment
	err := s.db.WithContext(ctx).
		Where("project_key = ?", projectKey).
		Order("created_at ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list experiments for %s: %w", projectKey, err)
	}
	return list, nil
}

// DeleteExperimentByID removes an experiment row.
func (s *Store) DeleteExperimentByID(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&Experiment{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete experiment %s: %w", id, err)
	}
	return nil
}

// CreateRun inserts a new run row.
func (s *Store) CreateRun(ctx context.Context, r *Run) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("create run %s: %w", r.Name, err)
	}
	return nil
}

// GetRunByID loads a run row. Returns ErrNotFound when absent.
func (s *Store) GetRunByID(ctx context.Context, id string) (*Run, error) {
	var r Run
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "get run "+id)
	}
	return &r, nil
}

// ListRuns returns all runs of a project in run-number order.
func (s *Store) ListRuns(ctx context.Context, projectKey string) ([]Run, error) {
	var list []Run
	err := s.db.WithContext(ctx).
		Where("project_key = ?", projectKey).
		Order("number ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list runs for %s: %w", projectKey, err)
	}
	return list, nil
}

// UpdateRunIfRunning writes the run's mutable fields, guarded by the row
// still being in RUNNING state. Returns ErrConflict when another writer
// already moved the run to a terminal state.
func (s *Store) UpdateRunIfRunning(ctx context.Context, r *Run) error {
	result := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ? AND status = ?", r.ID, RunStatusRunning).
		Updates(map[string]any{
			"status":   r.Status,
			"params":   r.Params,
			"metrics":  r.Metrics,
			"ended_at": r.EndedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("update run %s: %w", r.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// DeleteRunByID removes a run row.
func (s *Store) DeleteRunByID(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&Run{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	return nil
}

// CreateArtifact inserts a new artifact row.
func (s *Store) CreateArtifact(ctx context.Context, a *Artifact) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("create artifact %s: %w", a.Name, err)
	}
	return nil
}

// GetArtifactByID loads an artifact row. Returns ErrNotFound when absent.
func (s *Store) GetArtifactByID(ctx context.Context, id string) (*Artifact, error) {
	var a Artifact
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "get artifact "+id)
	}
	return &a, nil
}

// ListArtifactsByRun returns all artifacts attached to a run.
func (s *Store) ListArtifactsByRun(ctx context.Context, runID string) ([]Artifact, error) {
	var list []Artifact
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list artifacts for run %s: %w", runID, err)
	}
	return list, nil
}

// UpdateArtifactFiles replaces the artifact's file ref list, guarded by the
// revision the caller read. Returns errFilesRevisionConflict when another
// writer got there first; callers reload and merge.
func (s *Store) UpdateArtifactFiles(ctx context.Context, id string, files FileRefList, revision int64) error {
	result := s.db.WithContext(ctx).
		Model(&Artifact{}).
		Where("id = ? AND files_revision = ?", id, revision).
		Updates(map[string]any{
			"files":          files,
			"files_revision": revision + 1,
		})
	if result.Error != nil {
		return fmt.Errorf("update artifact files %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return errFilesRevisionConflict
	}
	return nil
}

// DeleteArtifactByID removes an artifact row.
func (s *Store) DeleteArtifactByID(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&Artifact{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete artifact %s: %w", id, err)
	}
	return nil
}

// CreateValidationSet inserts a new validation set row.
func (s *Store) CreateValidationSet(ctx context.Context, v *ValidationSet) error {
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("create validation set %s: %w", v.Name, err)
	}
	return nil
}

// GetValidationSetByID loads a validation set row. Returns ErrNotFound when
// absent.
func (s *Store) GetValidationSetByID(ctx context.Context, id string) (*ValidationSet, error) {
	var v ValidationSet
	if err := s.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "get validation set "+id)
	}
	return &v, nil
}

// UpdateValidationSetFiles replaces the validation set's file ref list,
// guarded by the revision the caller read.
func (s *Store) UpdateValidationSetFiles(ctx context.Context, id string, files FileRefList, revision int64) error {
	result := s.db.WithContext(ctx).
		Model(&ValidationSet{}).
		Where("id = ? AND files_revision = ?", id, revision).
		Updates(map[string]any{
			"files":          files,
			"files_revision": revision + 1,
		})
	if result.Error != nil {
		return fmt.Errorf("update validation set files %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return errFilesRevisionConflict
	}
	return nil
}

// DeleteValidationSetByID removes a validation set row.
func (s *Store) DeleteValidationSetByID(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&ValidationSet{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete validation set %s: %w", id, err)
	}
	return nil
}
