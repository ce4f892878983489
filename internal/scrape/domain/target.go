package domain

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Target is one external profile page to fetch and persist. The pending set
// is every target with a NULL processed_at; marking a target processed is a
// conditional update, so duplicate batch runs cannot claim the same target
// twice.
type Target struct {
	TargetID    string         `db:"target_id" json:"target_id"`
	Kind        string         `db:"kind" json:"kind"`
	ExternalID  string         `db:"external_id" json:"external_id"`
	SourceURL   string         `db:"source_url" json:"source_url"`
	Fields      ProfileFields  `db:"fields" json:"fields,omitempty"`
	LastError   sql.NullString `db:"last_error" json:"-"`
	ProcessedAt sql.NullTime   `db:"processed_at" json:"-"`
}

// ProfileFields holds the extracted key/value fields of a profile page,
// stored as jsonb.
type ProfileFields map[string]string

func (f ProfileFields) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	return json.Marshal(f)
}

func (f *ProfileFields) Scan(src any) error {
	if src == nil {
		*f = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ProfileFields", src)
	}
	return json.Unmarshal(raw, f)
}
