package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mlevkov/feedcore/app/types"
)

// Timestamps are stored as integer microseconds since the Unix epoch, the
// same granularity as the synthetic last_updated ticks assigned by the
// update pipeline.

func tsMicro(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMicro()
}

func microTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMicro(v.Int64).UTC()
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonOrNull(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return string(b), nil
}

func decodeException(v sql.NullString) (*types.ExceptionInfo, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var info types.ExceptionInfo
	if err := json.Unmarshal([]byte(v.String), &info); err != nil {
		return nil, fmt.Errorf("failed to decode last exception: %w", err)
	}
	return &info, nil
}

func storageErr(op string, err error) error {
	return &types.StorageError{Op: op, Err: err}
}
