package shared

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Version is reported in every log line.
const Version = "0.3.0"

type GetenvParser[T any] func(raw string) (T, error)

var (
	GetenvString GetenvParser[string] = func(raw string) (string, error) {
		return raw, nil
	}
	GetenvInt GetenvParser[int] = func(raw string) (int, error) {
		return cast.ToIntE(strings.TrimSpace(raw))
	}
	GetenvFloat64 GetenvParser[float64] = func(raw string) (float64, error) {
		return cast.ToFloat64E(strings.TrimSpace(raw))
	}
	GetenvBool GetenvParser[bool] = func(raw string) (bool, error) {
		return cast.ToBoolE(strings.TrimSpace(raw))
	}
	// GetenvDuration accepts Go durations ("250ms") or bare integers as seconds.
	GetenvDuration GetenvParser[time.Duration] = func(raw string) (time.Duration, error) {
		raw = strings.TrimSpace(raw)
		if secs, err := cast.ToInt64E(raw); err == nil {
			return time.Duration(secs) * time.Second, nil
		}
		return cast.ToDurationE(raw)
	}
)

// Getenv reads key and parses it. An unset or empty variable yields def,
// or a ConfigurationError when required.
func Getenv[T any](parse GetenvParser[T], key string, required bool, def T) (T, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		if required {
			return def, &ConfigurationError{Key: key, Err: ErrMissingEnv}
		}
		return def, nil
	}
	v, err := parse(raw)
	if err != nil {
		return def, &ConfigurationError{Key: key, Err: fmt.Errorf("parsing %q: %w", raw, err)}
	}
	return v, nil
}

// MustGetenv is Getenv for values whose absence or malformation is a programming error.
func MustGetenv[T any](parse GetenvParser[T], key string, required bool, def T) T {
	v, err := Getenv(parse, key, required, def)
	if err != nil {
		panic(err)
	}
	return v
}

// LoadDotenv loads the given .env files (".env" when none). Missing files are skipped;
// variables already present in the environment win.
func LoadDotenv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, name := range filenames {
		if err := godotenv.Load(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", name, err)
		}
	}
	return nil
}
