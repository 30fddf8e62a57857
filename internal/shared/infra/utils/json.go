package utils

import (
	"encoding/json"
	"fmt"
)

// DecodeAs deserializa data en un valor nuevo de tipo T.
func DecodeAs[T any](data json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}
