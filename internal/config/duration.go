package config

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Duration is a time.Duration stored as a string such as "30s". Plain
// numbers are read as seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := ParseDuration(v)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDuration accepts a duration string, a number of seconds or nil.
func ParseDuration(v any) (Duration, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		if val == "" {
			return 0, nil
		}
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", val, err)
		}
		return Duration(parsed), nil
	case float64:
		return Duration(time.Duration(val * float64(time.Second))), nil
	case int:
		return Duration(time.Duration(val) * time.Second), nil
	case int64:
		return Duration(time.Duration(val) * time.Second), nil
	case time.Duration:
		return Duration(val), nil
	default:
		return 0, fmt.Errorf("invalid duration %v", v)
	}
}
