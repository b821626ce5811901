package authz

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ACLStore provides database operations for access control lists.
type ACLStore struct {
	db *gorm.DB
}

// NewACLStore creates a new ACLStore.
func NewACLStore(db *gorm.DB) *ACLStore {
	return &ACLStore{db: db}
}

// AutoMigrate creates or updates the access_control_lists table.
func (s *ACLStore) AutoMigrate() error {
	return s.db.AutoMigrate(&ACLRecord{})
}

// Create inserts a new ACL. Fails if an ACL already exists for the object.
func (s *ACLStore) Create(ctx context.Context, acl *ACLRecord) error {
	if err := s.db.WithContext(ctx).Create(acl).Error; err != nil {
		return fmt.Errorf("create acl for %s/%s: %w", acl.ObjectType, acl.ObjectID, err)
	}
	return nil
}

// Get retrieves the ACL for an object. Returns ErrNotFound if no ACL exists.
func (s *ACLStore) Get(ctx context.Context, objectType, objectID string) (*ACLRecord, error) {
	var acl ACLRecord
	err := s.db.WithContext(ctx).
		Where("object_type = ? AND object_id = ?", objectType, objectID).
		First(&acl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get acl for %s/%s: %w", objectType, objectID, err)
	}
	return &acl, nil
}

// UpdateEntries writes a new entry list for the ACL, guarded by the revision
// read when the ACL was loaded. Returns errRevisionConflict if another
// writer got there first; callers reload and retry.
func (s *ACLStore) UpdateEntries(ctx context.Context, acl *ACLRecord, entries ACEList) error {
	result := s.db.WithContext(ctx).
		Model(&ACLRecord{}).
		Where("id = ? AND revision = ?", acl.ID, acl.Revision).
		Updates(map[string]any{
			"entries":  entries,
			"revision": acl.Revision + 1,
		})
	if result.Error != nil {
		return fmt.Errorf("update acl %s/%s: %w", acl.ObjectType, acl.ObjectID, result.Error)
	}
	if result.RowsAffected == 0 {
		return errRevisionConflict
	}
	acl.Entries = entries
	acl.Revision++
	return nil
}
