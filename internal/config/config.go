// Package config loads the handful of defaults a CLI session would
// otherwise have to pass as flags every time: index base URL, staging
// root, chunk size, raw-mode timeout, library path override. Flags always
// win; a config file only fills in what the caller left unset.
//
// There's no serial_port key: opening a serial port by name is an external
// collaborator this repo never dials (only pkg/board/webrepl provides a
// concrete OpenChannel), so a config default for it would have nowhere to
// go.
package config

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Duration is time.Duration with a TOML-friendly string form ("5s", "1m"),
// since the underlying type is otherwise just an int64 of nanoseconds.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler, which go-toml/v2
// honors for scalar string values.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrap(err, "parsing duration")
	}
	*d = Duration(parsed)
	return nil
}

// Config mirrors the TOML file's top-level keys.
type Config struct {
	IndexURL       string   `toml:"index_url"`
	StagingRoot    string   `toml:"staging_root"`
	ChunkSize      int      `toml:"chunk_size"`
	RawModeTimeout Duration `toml:"raw_mode_timeout"`
	LibraryPath    string   `toml:"library_path"`
}

// Load parses the TOML file at path. A missing file is not an error: it
// returns a zero Config so callers can apply their own defaults on top.
func Load(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	var c Config
	if err := toml.Unmarshal(body, &c); err != nil {
		return Config{}, errors.Wrapf(err, "parsing config %s", path)
	}
	return c, nil
}

// Merge returns a Config with every zero-valued field of c replaced by the
// corresponding field of fallback, implementing the "file fills in what
// flags left unset" override order.
func Merge(c, fallback Config) Config {
	if c.IndexURL == "" {
		c.IndexURL = fallback.IndexURL
	}
	if c.StagingRoot == "" {
		c.StagingRoot = fallback.StagingRoot
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = fallback.ChunkSize
	}
	if c.RawModeTimeout == 0 {
		c.RawModeTimeout = fallback.RawModeTimeout
	}
	if c.LibraryPath == "" {
		c.LibraryPath = fallback.LibraryPath
	}
	return c
}
