package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// envVar is one KEY=VALUE assignment from a dotenv file.
type envVar struct {
	key   string
	value string
}

// envFileCandidates lists dotenv files in precedence order: AUTONOMY_ENV_FILE,
// the config directory, then ./.env as used by cron deployments.
func envFileCandidates() []string {
	var paths []string
	add := func(p string) {
		if p == "" {
			return
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !slices.Contains(paths, p) {
			paths = append(paths, p)
		}
	}
	add(strings.TrimSpace(os.Getenv("AUTONOMY_ENV_FILE")))
	if home, err := resolveHomeDir(); err == nil {
		add(filepath.Join(home, ConfigDir, "env"))
		add(filepath.Join(home, ConfigDir, ".env"))
	}
	add(".env")
	return paths
}

// LoadEnvFileCandidates exports credentials from dotenv files into the process
// environment. A variable that is already set is never replaced, so the
// process environment beats every file and earlier files beat later ones.
func LoadEnvFileCandidates() {
	for _, p := range envFileCandidates() {
		n, err := loadEnvFile(p)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			slog.Warn("config: env file unreadable", "path", p, "error", err)
		case n > 0:
			slog.Debug("config: env file loaded", "path", p, "vars", n)
		}
	}
}

// loadEnvFile sets the unset variables found in path and returns how many it
// set.
func loadEnvFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	vars, err := parseEnv(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	set := 0
	for _, v := range vars {
		if _, ok := os.LookupEnv(v.key); ok {
			continue
		}
		if err := os.Setenv(v.key, v.value); err != nil {
			return set, fmt.Errorf("%s: set %s: %w", path, v.key, err)
		}
		set++
	}
	return set, nil
}

// parseEnv reads dotenv syntax: blank lines and # comments are ignored, an
// export prefix is allowed, and a line with no key is skipped.
func parseEnv(r io.Reader) ([]envVar, error) {
	var out []envVar
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, raw, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			slog.Debug("config: env line skipped", "line", n)
			continue
		}
		out = append(out, envVar{key: key, value: envValue(strings.TrimSpace(raw))})
	}
	return out, sc.Err()
}

// envValue strips quoting. Double quotes take Go escapes (\n, \"), single
// quotes are literal, and an unquoted value ends at a " #" comment.
func envValue(raw string) string {
	if len(raw) >= 2 {
		switch q := raw[0]; {
		case q == '"' && raw[len(raw)-1] == '"':
			if v, err := strconv.Unquote(raw); err == nil {
				return v
			}
			return raw[1 : len(raw)-1]
		case q == '\'' && raw[len(raw)-1] == '\'':
			return raw[1 : len(raw)-1]
		}
	}
	if i := strings.Index(raw, " #"); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	return raw
}
