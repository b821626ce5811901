package authz

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AccessControlEntry grants (or withholds) one permission to one principal.
type AccessControlEntry struct {
	Principal  string     `json:"principal"`
	Permission Permission `json:"permission"`
	Granting   bool       `json:"granting"`
}

// ACEList is a custom GORM type for an ordered entry list stored as JSON.
// Storing the whole list in one column keeps each ACL a single row, so a
// mutation is a single-row compare-and-swap.
type ACEList []AccessControlEntry

// Scan implements the sql.Scanner interface for ACEList.
func (l *ACEList) Scan(value any) error {
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
		return fmt.Errorf("unsupported type for ACEList: %T", value)
	}
	return json.Unmarshal(bytes, l)
}

// Value implements the driver.Valuer interface for ACEList.
func (l ACEList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// find returns the index of the first entry for principal, or -1.
func (l ACEList) find(principal string) int {
	for i, e := range l {
		if e.Principal == principal {
			return i
		}
	}
	return -1
}

// ACLRecord is one object's access control list. ParentType/ParentID point
// at the ACL the object inherits from (a project, for all child objects);
// both are empty for root ACLs.
type ACLRecord struct {
	ID                uint   `gorm:"primaryKey;autoIncrement"`
	ObjectType        string `gorm:"column:object_type;type:varchar(32);not null;uniqueIndex:idx_acl_object,priority:1"`
	ObjectID          string `gorm:"column:object_id;type:varchar(255);not null;uniqueIndex:idx_acl_object,priority:2"`
	ParentType        string `gorm:"column:parent_type;type:varchar(32)"`
	ParentID          string `gorm:"column:parent_id;type:varchar(255)"`
	EntriesInheriting bool   `gorm:"column:entries_inheriting;not null"`
	Entries           ACEList `gorm:"column:entries;type:text;not null"`
	Revision          int64   `gorm:"column:revision;not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TableName overrides the table name for ACLRecord.
func (ACLRecord) TableName() string {
	return "access_control_lists"
}
