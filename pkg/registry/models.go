package registry

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringMap is a custom GORM type for map[string]string stored as JSON.
// Used for run parameters, run metrics and artifact metadata.
type StringMap map[string]string

// Scan implements the sql.Scanner interface for StringMap.
func (m *StringMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for StringMap: %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// Value implements the driver.Valuer interface for StringMap.
func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// FileRef records one stored file of a file-bearing entity. The internal
// file name is the deterministic object key inside the project container;
// together with the content hash it is the dedup key. ContentHash is the
// caller-declared hash of the content, ETag the backend's own checksum of
// the stored object; the two generally differ (multipart ETags are
// composites) and only ContentHash participates in dedup.
type FileRef struct {
	FileName         string    `json:"fileName"`
	InternalFileName string    `json:"internalFileName"`
	ContentHash      string    `json:"contentHash"`
	ETag             string    `json:"etag,omitempty"`
	StorageVersionID string    `json:"storageVersionId"`
	Size             int64     `json:"size"`
	UploadedAt       time.Time `json:"uploadedAt"`
}

// FileRefList is a custom GORM type for a FileRef slice stored as JSON.
// File refs are owned by their parent entity row, not independently
// addressable.
type FileRefList []FileRef

// Scan implements the sql.Scanner interface for FileRefList.
func (l *FileRefList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for FileRefList: %T", value)
	}
	return json.Unmarshal(bytes, l)
}

// Value implements the driver.Valuer interface for FileRefList.
func (l FileRefList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// findInternal returns the index of the ref with the given internal file
// name, or -1.
func (l FileRefList) findInternal(internalFileName string) int {
	for i, ref := range l {
		if ref.InternalFileName == internalFileName {
			return i
		}
	}
	return -1
}

// RunStatus is the lifecycle state of a run. RUNNING is the only mutable
// state; COMPLETED and FAILED are terminal.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Project is the root entity. Its key doubles as the ACL object id and the
// derivation base for the project's storage container.
type Project struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Key         string    `json:"key" gorm:"column:project_key;type:varchar(128);not null;uniqueIndex"`
	Name        string    `json:"name" gorm:"type:varchar(255);not null"`
	Description string    `json:"description" gorm:"type:text"`
	CreatedBy   string    `json:"createdBy" gorm:"type:varchar(255);not null"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Experiment groups runs inside a project.
type Experiment struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ProjectKey  string    `json:"projectKey" gorm:"type:varchar(128);not null;index"`
	Name        string    `json:"name" gorm:"type:varchar(255);not null"`
	Description string    `json:"description" gorm:"type:text"`
	CreatedBy   string    `json:"createdBy" gorm:"type:varchar(255);not null"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Run is a single execution. Number comes from the per-project run counter
// and never repeats within a project.
type Run struct {
	ID           string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ProjectKey   string     `json:"projectKey" gorm:"type:varchar(128);not null;index"`
	ExperimentID string     `json:"experimentId" gorm:"type:varchar(36);index"`
	Name         string     `json:"name" gorm:"type:varchar(255);not null"`
	Number       int64      `json:"number" gorm:"not null"`
	Status       RunStatus  `json:"status" gorm:"type:varchar(16);not null"`
	Params       StringMap  `json:"params" gorm:"type:text"`
	Metrics      StringMap  `json:"metrics" gorm:"type:text"`
	StartedAt    time.Time  `json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	CreatedBy    string     `json:"createdBy" gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Artifact is a versioned, file-bearing entity attached to a run. Version
// comes from the counter scoped to (project, type, name): two artifacts
// with the same name in the same project never share a version.
type Artifact struct {
	ID         string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ProjectKey string      `json:"projectKey" gorm:"type:varchar(128);not null;uniqueIndex:idx_artifact_version,priority:1"`
	RunID      string      `json:"runId" gorm:"type:varchar(36);not null;index"`
	Name       string      `json:"name" gorm:"type:varchar(255);not null;uniqueIndex:idx_artifact_version,priority:3"`
	Type       string      `json:"type" gorm:"type:varchar(128);not null;uniqueIndex:idx_artifact_version,priority:2"`
	Version    int64       `json:"version" gorm:"not null;uniqueIndex:idx_artifact_version,priority:4"`
	Files      FileRefList `json:"files" gorm:"type:text;not null"`
	// FilesRevision guards concurrent rewrites of the ref list.
	FilesRevision int64 `json:"-" gorm:"not null;default:0"`
	Metadata   StringMap   `json:"metadata" gorm:"type:text"`
	CreatedBy  string      `json:"createdBy" gorm:"type:varchar(255);not null"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// ValidationSet is a versioned, file-bearing entity owned directly by a
// project.
type ValidationSet struct {
	ID         string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ProjectKey string      `json:"projectKey" gorm:"type:varchar(128);not null;uniqueIndex:idx_vset_version,priority:1"`
	Name       string      `json:"name" gorm:"type:varchar(255);not null;uniqueIndex:idx_vset_version,priority:2"`
	Version    int64       `json:"version" gorm:"not null;uniqueIndex:idx_vset_version,priority:3"`
	Files      FileRefList `json:"files" gorm:"type:text;not null"`
	// FilesRevision guards concurrent rewrites of the ref list.
	FilesRevision int64 `json:"-" gorm:"not null;default:0"`
	Metadata   StringMap   `json:"metadata" gorm:"type:text"`
	CreatedBy  string      `json:"createdBy" gorm:"type:varchar(255);not null"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}
