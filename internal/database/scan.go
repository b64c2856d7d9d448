package database

import (
	"encoding/json"
	"fmt"

	"whatslens/internal/constants"
)

// marshalJSONB renders a value for a jsonb column; nil maps and slices
// become empty containers so columns keep their NOT NULL defaults honest.
func marshalJSONB(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb value: %w", err)
	}
	if string(data) == "null" {
		return []byte("{}"), nil
	}
	return data, nil
}

func unmarshalJSONB(data []byte, dst interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal jsonb value: %w", err)
	}
	return nil
}

// clampLimit normalizes a caller-supplied page size to 1..MaxPageLimit.
func clampLimit(limit int) int {
	if limit <= 0 {
		return constants.DefaultPageLimit
	}
	if limit > constants.MaxPageLimit {
		return constants.MaxPageLimit
	}
	return limit
}

func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// nullIfEmpty maps "" to a SQL NULL so optional text params behave.
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
