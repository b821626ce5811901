package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/tracklab/tracklab/pkg/authz"
	"github.com/tracklab/tracklab/pkg/blobstore"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// download translates backend absence into the entity-level sentinel, so a
// stale ref or a bogus version id surfaces as not-found, not a 500.
func download(rc io.ReadCloser, err error) (io.ReadCloser, error) {
	if errors.Is(err, blobstore.ErrObjectNotFound) {
		return nil, ErrNotFound
	}
	return rc, err
}

// ArtifactDraft is the input for attaching an artifact to a run.
type ArtifactDraft struct {
	RunID    string
	Name     string
	Type     string
	Metadata map[string]string
}

// artifactScope isolates the version counter per (project, type, name):
// two different artifact names in the same project never share a counter.
func artifactScope(projectKey, artifactType, name string) string {
	return fmt.Sprintf("%s.artifact.%s.%s", projectKey, artifactType, name)
}

func validationSetScope(projectKey, name string) string {
	return fmt.Sprintf("%s.validationset.%s", projectKey, name)
}

// internalFileName builds the deterministic object key for an entity file.
func internalFileName(entityKind, name string, version int64, fileName string) string {
	return fmt.Sprintf("%s/%s/%d/%s", entityKind, name, version, fileName)
}

// AttachArtifact creates a versioned artifact on a run. The run must be
// RUNNING: attaching to a terminal run is a referential violation, not a
// state conflict. The version number is consumed even when a later step
// fails.
func (s *Service) AttachArtifact(ctx context.Context, projectKey string, draft ArtifactDraft) (*Artifact, error) {
	if draft.Name == "" || draft.Type == "" {
		return nil, fmt.Errorf("%w: artifact name and type are required", ErrInvalidInput)
	}
	if err := s.checkProjectAccess(ctx, projectKey, authz.PermissionContributor); err != nil {
		return nil, err
	}
	run, err := s.getProjectRun(ctx, projectKey, draft.RunID)
	if err != nil {
		return nil, fmt.Errorf("%w: run %s", ErrInvalidInput, draft.RunID)
	}
	if run.Status != RunStatusRunning {
		return nil, fmt.Errorf("%w: cannot attach artifact to %s run %s", ErrInvalidInput, run.Status, run.ID)
	}
	principal := authz.CurrentPrincipalID(ctx)

	version, err := s.counter.NextValue(ctx, artifactScope(projectKey, draft.Type, draft.Name))
	if err != nil {
		return nil, err
	}

	return createAndAuthorize(ctx, s.logger,
		func(ctx context.Context) (*Artifact, error) {
			a := &Artifact{
				ID:         uuid.New().String(),
				ProjectKey: projectKey,
				RunID:      run.ID,
				Name:       draft.Name,
				Type:       draft.Type,
				Version:    version,
				Files:      FileRefList{},
				Metadata:   draft.Metadata,
				CreatedBy:  principal,
			}
			if err := s.store.CreateArtifact(ctx, a); err != nil {
				return nil, err
			}
			return a, nil
		},
		func(ctx context.Context, a *Artifact) error {
			return s.acl.GrantPermissionBasedOnProject(ctx, projectKey, a.ID, authz.ObjectArtifact)
		},
		func(ctx context.Context, a *Artifact) error {
			return s.store.DeleteArtifactByID(ctx, a.ID)
		},
	)
}

// GetArtifact returns an artifact visible to the caller. Visibility is
// checked against the artifact's own ACL, which inherits from the project.
func (s *Service) GetArtifact(ctx context.Context, projectKey, artifactID string) (*Artifact, error) {
	principal := authz.CurrentPrincipalID(ctx)
	if err := s.acl.CheckAccess(ctx, authz.ObjectArtifact, artifactID, principal, authz.PermissionViewer); err != nil {
		return nil, err
	}
	a, err := s.store.GetArtifactByID(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if a.ProjectKey != projectKey {
		return nil, ErrNotFound
	}
	return a, nil
}

// ListRunArtifacts returns the artifacts attached to a run.
func (s *Service) ListRunArtifacts(ctx context.Context, projectKey, runID string) ([]Artifact, error) {
	if err := s.checkProjectAccess(ctx, projectKey, authz.PermissionViewer); err != nil {
		return nil, err
	}
	if _, err := s.getProjectRun(ctx, projectKey, runID); err != nil {
		return nil, err
	}
	return s.store.ListArtifactsByRun(ctx, runID)
}

// ValidationSetDraft is the input for validation set creation.
type ValidationSetDraft struct {
	Name     string
	Metadata map[string]string
}

// CreateValidationSet creates a versioned validation set under the project.
func (s *Service) CreateValidationSet(ctx context.Context, projectKey string, draft ValidationSetDraft) (*ValidationSet, error) {
	if draft.Name == "" {
		return nil, fmt.Errorf("%w: validation set name is required", ErrInvalidInput)
	}
	if err := s.checkProjectAccess(ctx, projectKey, authz.PermissionContributor); err != nil {
		return nil, err
	}
	principal := authz.CurrentPrincipalID(ctx)

	version, err := s.counter.NextValue(ctx, validationSetScope(projectKey, draft.Name))
	if err != nil {
		return nil, err
	}

	return createAndAuthorize(ctx, s.logger,
		func(ctx context.Context) (*ValidationSet, error) {
			v := &ValidationSet{
				ID:         uuid.New().String(),
				ProjectKey: projectKey,
				Name:       draft.Name,
				Version:    version,
				Files:      FileRefList{},
				Metadata:   draft.Metadata,
				CreatedBy:  principal,
			}
			if err := s.store.CreateValidationSet(ctx, v); err != nil {
				return nil, err
			}
			return v, nil
		},
		func(ctx context.Context, v *ValidationSet) error {
			return s.acl.GrantPermissionBasedOnProject(ctx, projectKey, v.ID, authz.ObjectValidationSet)
		},
		func(ctx context.Context, v *ValidationSet) error {
			return s.store.DeleteValidationSetByID(ctx, v.ID)
		},
	)
}

// GetValidationSet returns a validation set visible to the caller.
func (s *Service) GetValidationSet(ctx context.Context, projectKey, id string) (*ValidationSet, error) {
	if err := s.checkProjectAccess(ctx, projectKey, authz.PermissionViewer); err != nil {
		return nil, err
	}
	v, err := s.store.GetValidationSetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.ProjectKey != projectKey {
		return nil, ErrNotFound
	}
	return v, nil
}

// maxFileUpdateRetries bounds the reload-and-merge loop when concurrent
// uploads race on one entity's ref list.
const maxFileUpdateRetries = 5

// uploadEntityFile implements the shared upload-with-dedup flow. When an
// existing ref matches both the internal file name and the caller-supplied
// hash, the upload is skipped outright; the client hash is trusted on the
// skip path, no server-side re-hash happens. The ref records that client
// hash as its ContentHash (the dedup key) and keeps the backend's ETag
// separately; the two are never interchangeable.
func (s *Service) uploadEntityFile(ctx context.Context, projectKey string, files FileRefList, entityKind, entityName string, version int64, fileName, contentHash string, r io.Reader) (*FileRef, bool, error) {
	internal := internalFileName(entityKind, entityName, version, fileName)

	if i := files.findInternal(internal); i >= 0 && files[i].ContentHash == contentHash {
		return &files[i], false, nil
	}

	result, err := s.files.Upload(ctx, projectKey, internal, r)
	if err != nil {
		return nil, false, err
	}

	return &FileRef{
		FileName:         fileName,
		InternalFileName: internal,
		ContentHash:      contentHash,
		ETag:             result.ETag,
		StorageVersionID: result.StorageVersionID,
		Size:             result.Size,
		UploadedAt:       nowUTC(),
	}, true, nil
}

// mergeFileRef rewrites the ref matching the internal file name in place,
// or appends. An entity holds at most one ref per internal file name.
func mergeFileRef(files FileRefList, ref FileRef) FileRefList {
	if i := files.findInternal(ref.InternalFileName); i >= 0 {
		files[i] = ref
		return files
	}
	return append(files, ref)
}

// UploadArtifactFile stores one file of an artifact, deduplicating against
// the artifact's existing refs.
func (s *Service) UploadArtifactFile(ctx context.Context, projectKey, artifactID, fileName, contentHash string, r io.Reader) (*FileRef, error) {
	if fileName == "" {
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}
	if err := s.checkProjectAccess(ctx, projectKey, authz.PermissionContributor); err != nil {
		return nil, err
	}
	a, err := s.GetArtifact(ctx, projectKey, artifactID)
	if err != nil {
		return nil, err
	}

	ref, uploaded, err := s.uploadEntityFile(ctx, projectKey, a.Files, "artifact", a.Name, a.Version, fileName, contentHash, r)
	if err != nil {
		return nil, err
	}
	if !uploaded {
		return ref, nil
	}

	// Concurrent uploads of different files race on the ref list; reload
	// and re-merge until the guarded write lands.
	for attempt := 0; attempt < maxFileUpdateRetries; attempt++ {
		err := s.store.UpdateArtifactFiles(ctx, a.ID, mergeFileRef(a.Files, *ref), a.FilesRevision)
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, errFilesRevisionConflict) {
			return nil, err
		}
		if a, err = s.store.GetArtifactByID(ctx, a.ID); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: concurrent file updates on artifact %s", ErrConflict, a.ID)
}

// DownloadArtifactFile streams one file of an artifact. An empty versionID
// selects the latest stored version.
func (s *Service) DownloadArtifactFile(ctx context.Context, projectKey, artifactID, fileName, versionID string) (io.ReadCloser, error) {
	a, err := s.GetArtifact(ctx, projectKey, artifactID)
	if err != nil {
		return nil, err
	}
	i := a.Files.findInternal(internalFileName("artifact", a.Name, a.Version, fileName))
	if i < 0 {
		return nil, ErrNotFound
	}
	if versionID == "" {
		return download(s.files.Download(ctx, projectKey, a.Files[i].InternalFileName))
	}
	return download(s.files.DownloadVersion(ctx, projectKey, a.Files[i].InternalFileName, versionID))
}

// UploadValidationSetFile stores one file of a validation set,
// deduplicating against its existing refs.
func (s *Service) UploadValidationSetFile(ctx context.Context, projectKey, id, fileName, contentHash string, r io.Reader) (*FileRef, error) {
	if fileName == "" {
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}
	if err := s.checkProjectAccess(ctx, projectKey, authz.PermissionContributor); err != nil {
		return nil, err
	}
	v, err := s.store.GetValidationSetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.ProjectKey != projectKey {
		return nil, ErrNotFound
	}

	ref, uploaded, err := s.uploadEntityFile(ctx, projectKey, v.Files, "validationset", v.Name, v.Version, fileName, contentHash, r)
	if err != nil {
		return nil, err
	}
	if !uploaded {
		return ref, nil
	}

	for attempt := 0; attempt < maxFileUpdateRetries; attempt++ {
		err := s.store.UpdateValidationSetFiles(ctx, v.ID, mergeFileRef(v.Files, *ref), v.FilesRevision)
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, errFilesRevisionConflict) {
			return nil, err
		}
		if v, err = s.store.GetValidationSetByID(ctx, v.ID); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: concurrent file updates on validation set %s", ErrConflict, v.ID)
}

// DownloadValidationSetFile streams one file of a validation set.
func (s *Service) DownloadValidationSetFile(ctx context.Context, projectKey, id, fileName, versionID string) (io.ReadCloser, error) {
	v, err := s.GetValidationSet(ctx, projectKey, id)
	if err != nil {
		return nil, err
	}
	i := v.Files.findInternal(internalFileName("validationset", v.Name, v.Version, fileName))
	if i < 0 {
		return nil, ErrNotFound
	}
	if versionID == "" {
		return download(s.files.Download(ctx, projectKey, v.Files[i].InternalFileName))
	}
	return download(s.files.DownloadVersion(ctx, projectKey, v.Files[i].InternalFileName, versionID))
}
