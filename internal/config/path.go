// Package config loads ruleflow's settings from viper.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands a leading ~ and $VAR references in path.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + strings.TrimPrefix(path, "~")
		}
	}
	return os.ExpandEnv(path)
}

// resolvePaths expands every configured file location in place. The
// in-memory database name is left alone.
func (c *Config) resolvePaths() {
	for _, p := range []*string{&c.Database.Path, &c.Rules.Path} {
		if *p == "" || *p == ":memory:" {
			continue
		}
		*p = filepath.Clean(ExpandPath(*p))
	}
}
