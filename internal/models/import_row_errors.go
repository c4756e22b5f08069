package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ImportRowErrors is stored as a JSONB array.
type ImportRowErrors []ImportRowError

// Value implements driver.Valuer.
func (e ImportRowErrors) Value() (driver.Value, error) {
	if e == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e)
}

// Scan implements sql.Scanner.
func (e *ImportRowErrors) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*e = ImportRowErrors{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan import errors: unsupported type %T", src)
	}
	var out ImportRowErrors
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan import errors: %w", err)
	}
	*e = out
	return nil
}
