// Package config implements a KEY=VALUE configuration file reader:
// lookup across $XDG_CONFIG_HOME/$XDG_CONFIG_DIRS/$HOME, whitespace-
// trimmed key/value parsing, and warn-and-ignore handling of blank or
// unrecognized keys.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zit-go/zit/logging"
)

// --------------------------------------------------------------------------------------------- //

// FileName is the config file's name, searched for under each candidate
// config directory.
const FileName = "zit.conf"

// --------------------------------------------------------------------------------------------- //

/*
Config holds the recognized settings a zit.conf file (or CLI flag
override) may supply.
*/
type Config struct {
	InitiatePeerConnections bool
	ListeningPort           int
	ConnectionPort          int
	AssumeFullOnHave        bool
	RewriteDockerBridge     bool
}

// --------------------------------------------------------------------------------------------- //

/*
Default returns the built-in defaults: initiate connections on, no fixed
ports (0 lets the OS choose), HAVE-before-BITFIELD assumed complete as a
best-effort default, Docker-bridge rewriting off.
*/
func Default() Config {
	return Config{
		InitiatePeerConnections: true,
		AssumeFullOnHave:        true,
		RewriteDockerBridge:     false,
	}
}

// --------------------------------------------------------------------------------------------- //

/*
SearchPaths returns the ordered list of zit.conf candidate locations,
following $XDG_CONFIG_HOME (or $HOME/.config in its place when
$XDG_CONFIG_HOME is unset or empty), then each entry of $XDG_CONFIG_DIRS.

Parameters:
  - env: Lookup function for environment variables; pass os.LookupEnv in
    production, a fake map-backed lookup in tests.

Returns:
  - []string: Candidate file paths, most specific first.
*/
func SearchPaths(env func(string) (string, bool)) []string {
	var dirs []string

	if home, ok := env("XDG_CONFIG_HOME"); ok && home != "" {
		dirs = append(dirs, home)
	} else if home, ok := env("HOME"); ok && home != "" {
		dirs = append(dirs, filepath.Join(home, ".config"))
	}

	if list, ok := env("XDG_CONFIG_DIRS"); ok && list != "" {
		dirs = append(dirs, strings.Split(list, ":")...)
	}

	paths := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if d == "" {
			continue
		}
		paths = append(paths, filepath.Join(d, "zit", FileName))
	}
	return paths
}

// --------------------------------------------------------------------------------------------- //

/*
Load searches SearchPaths(os.LookupEnv) in order and parses the first
zit.conf it finds, overlaying it onto Default(). Returns Default()
unmodified if no config file exists anywhere in the search path.

Parameters:
  - log: Destination for unrecognized-key warnings.

Returns:
  - Config: The effective configuration.
  - error: Non-nil only if a config file exists but cannot be read/parsed.
*/
func Load(log *logging.Logger) (Config, error) {
	cfg := Default()

	for _, path := range SearchPaths(os.LookupEnv) {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return cfg, fmt.Errorf("config: opening %q: %w", path, err)
		}
		defer f.Close()

		if err := parseInto(&cfg, f, log); err != nil {
			return cfg, fmt.Errorf("config: parsing %q: %w", path, err)
		}
		return cfg, nil
	}

	return cfg, nil
}

// --------------------------------------------------------------------------------------------- //

func parseInto(cfg *Config, r io.Reader, log *logging.Logger) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			if log != nil {
				log.Warning("config: ignoring malformed line %q", line)
			}
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if err := applyKey(cfg, key, value); err != nil {
			if log != nil {
				log.Warning("config: %v", err)
			}
		}
	}
	return scanner.Err()
}

// --------------------------------------------------------------------------------------------- //

func applyKey(cfg *Config, key, value string) error {
	switch key {
	case "initiate_peer_connections":
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		cfg.InitiatePeerConnections = b
	case "listening_port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		cfg.ListeningPort = n
	case "connection_port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		cfg.ConnectionPort = n
	case "assume_full_on_have":
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		cfg.AssumeFullOnHave = b
	case "rewrite_docker_bridge":
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		cfg.RewriteDockerBridge = b
	default:
		return fmt.Errorf("unrecognized key %q, ignoring", key)
	}
	return nil
}

// --------------------------------------------------------------------------------------------- //

func parseBool(value string) (bool, error) {
	switch value {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q", value)
	}
}

// --------------------------------------------------------------------------------------------- //
