package types

import "database/sql/driver"

// JSONMap is a free-form JSONB object.
type JSONMap map[string]any

// Value marshals the map into JSON.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return jsonValue(map[string]any(m))
}

// Scan decodes JSONB into the map.
func (m *JSONMap) Scan(value any) error {
	return scanJSON("json map", value, m)
}

// String returns the value stored under key when it is a string.
func (m JSONMap) String(key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
