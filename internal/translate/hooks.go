package translate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/storesync/internal/row"
)

const datetimeLayout = "2006-01-02T15:04:05"

// decodeSplitDatetime combines a legacy date field and a seconds-since-midnight
// field into one local datetime column. A null legacy date yields Null.
func decodeSplitDatetime(column, dateWire, timeWire string) func(map[string]json.RawMessage, row.Row) error {
	return func(obj map[string]json.RawMessage, r row.Row) error {
		dateVal, err := decodeField(Field{Column: column, Wire: dateWire, Kind: KindDate, Optional: true}, obj[dateWire], hasKey(obj, dateWire))
		if err != nil {
			return fmt.Errorf("field %s: %w", dateWire, err)
		}
		date, ok := dateVal.(row.String)
		if !ok {
			r[column] = row.Null{}
			return nil
		}

		var seconds int64
		if raw, present := obj[timeWire]; present && !isNullRaw(raw, present) {
			seconds, err = decodeInt(raw)
			if err != nil {
				return fmt.Errorf("field %s: %w", timeWire, err)
			}
		}
		if seconds < 0 || seconds >= 24*60*60 {
			return fmt.Errorf("field %s: %d is not a time of day", timeWire, seconds)
		}

		day, err := time.Parse(dateLayout, string(date))
		if err != nil {
			return fmt.Errorf("field %s: %w", dateWire, err)
		}
		r[column] = row.String(day.Add(time.Duration(seconds) * time.Second).Format(datetimeLayout))
		return nil
	}
}

// encodeSplitDatetime is the inverse of decodeSplitDatetime.
func encodeSplitDatetime(column, dateWire, timeWire string) func(row.Row, map[string]any) error {
	return func(r row.Row, out map[string]any) error {
		if r.IsNull(column) {
			out[dateWire] = legacyNullDate
			out[timeWire] = 0
			return nil
		}
		s, ok := r.Str(column)
		if !ok {
			return fmt.Errorf("column %s: expected string", column)
		}
		ts, err := time.Parse(datetimeLayout, s)
		if err != nil {
			return fmt.Errorf("column %s: %w", column, err)
		}
		midnight := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		out[dateWire] = ts.Format(dateLayout)
		out[timeWire] = int64(ts.Sub(midnight) / time.Second)
		return nil
	}
}

// invertBool flips a decoded boolean column whose legacy sense is negative.
func invertBool(column string) func(map[string]json.RawMessage, row.Row) error {
	return func(_ map[string]json.RawMessage, r row.Row) error {
		b, ok := r[column].(row.Bool)
		if !ok {
			return fmt.Errorf("column %s: expected bool", column)
		}
		r[column] = !b
		return nil
	}
}

// invertWireBool writes the negated column value to the legacy field.
func invertWireBool(column, wire string) func(row.Row, map[string]any) error {
	return func(r row.Row, out map[string]any) error {
		b, ok := r[column].(row.Bool)
		if !ok {
			return fmt.Errorf("column %s: expected bool", column)
		}
		out[wire] = !bool(b)
		return nil
	}
}

func hasKey(obj map[string]json.RawMessage, key string) bool {
	_, ok := obj[key]
	return ok
}
