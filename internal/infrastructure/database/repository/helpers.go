package repository

import (
	"encoding/json"
	"fmt"
)

// JSONB conversion helpers

// marshalJSONB renders v for a JSONB parameter. Values that marshal to the
// JSON literal null (nil slices, nil pointers) become SQL NULL instead.
func marshalJSONB(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb value: %w", err)
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}

// unmarshalJSONB decodes a JSONB column into dst, treating SQL NULL as absent
func unmarshalJSONB(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
