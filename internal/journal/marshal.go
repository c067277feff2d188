package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/normcache/internal/ir"
)

// marshalPayload encodes a payload as canonical JSON; nil stays NULL.
func marshalPayload(v ir.Value) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal payload: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalPayload(s sql.NullString) (ir.Value, error) {
	if !s.Valid {
		return nil, nil
	}
	v, err := ir.Unmarshal([]byte(s.String))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return v, nil
}

// marshalKeys encodes keys as a sorted JSON array of "type:id" strings.
func marshalKeys(keys []ir.Key) (string, error) {
	strs := ir.NewKeySet(keys...).Strings()
	b, err := json.Marshal(strs)
	if err != nil {
		return "", fmt.Errorf("marshal keys: %w", err)
	}
	return string(b), nil
}

func unmarshalKeys(s string) ([]ir.Key, error) {
	var strs []string
	if err := json.Unmarshal([]byte(s), &strs); err != nil {
		return nil, fmt.Errorf("unmarshal keys: %w", err)
	}
	keys := make([]ir.Key, 0, len(strs))
	for _, str := range strs {
		k, err := ir.ParseKey(str)
		if err != nil {
			return nil, fmt.Errorf("unmarshal keys: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}
