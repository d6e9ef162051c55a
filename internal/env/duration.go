package env

import "time"

// Duration wraps time.Duration so config values parse from "30s"-style
// strings in both the environment and TOML files.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// STD returns the wrapped time.Duration.
func (d Duration) STD() time.Duration {
	return time.Duration(d)
}
