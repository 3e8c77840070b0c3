package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

func jsonValue(v any) (driver.Value, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}

// scanJSON decodes a JSON column into dst. SQL NULL and empty payloads
// reset dst to its zero value; dst is untouched when decoding fails.
func scanJSON[T any](column string, src any, dst *T) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("%s: unsupported scan type %T", column, src)
	}

	var out T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("%s: %w", column, err)
		}
	}
	*dst = out
	return nil
}
