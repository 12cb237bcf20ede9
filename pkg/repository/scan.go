package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamps come back as time.Time from PostgreSQL and as text from SQLite.
var timeLayouts = []string{
	sqliteTimeFormat,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTime(src any) (time.Time, error) {
	switch v := src.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		return parseTimeString(v)
	case []byte:
		return parseTimeString(string(v))
	case int64:
		return time.UnixMilli(v).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported time value %T", src)
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}

type timeDest struct{ dst *time.Time }

func (d timeDest) Scan(src any) error {
	if src == nil {
		return fmt.Errorf("unexpected NULL time")
	}
	t, err := parseTime(src)
	if err != nil {
		return err
	}
	*d.dst = t
	return nil
}

type nullTimeDest struct{ dst **time.Time }

func (d nullTimeDest) Scan(src any) error {
	if src == nil {
		*d.dst = nil
		return nil
	}
	t, err := parseTime(src)
	if err != nil {
		return err
	}
	*d.dst = &t
	return nil
}

func scanTime(dst *time.Time) sql.Scanner { return timeDest{dst} }

func scanNullTime(dst **time.Time) sql.Scanner { return nullTimeDest{dst} }

// jsonDest decodes a nullable JSON column into dst.
type jsonDest struct{ dst any }

func (d jsonDest) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON value %T", src)
	}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, d.dst)
}

func scanJSON(dst any) sql.Scanner { return jsonDest{dst} }

// jsonParam encodes v for a JSON column, or NULL when v is empty.
func jsonParam[T ~map[K]V, K comparable, V any](v T) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
