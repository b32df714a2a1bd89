package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration so it can be loaded from YAML either as a
// Go duration string ("10s") or a bare number of seconds (10), matching the
// two spellings seen in hand-edited config files.
type Duration time.Duration

func (d Duration) duration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var asSeconds float64
	if err := unmarshal(&asSeconds); err == nil {
		*d = Duration(asSeconds * float64(time.Second))
		return nil
	}

	var asString string
	if err := unmarshal(&asString); err != nil {
		return fmt.Errorf("config: duration must be a string or number of seconds: %w", err)
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", asString, err)
	}
	*d = Duration(parsed)
	return nil
}
