package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".autonomy"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// ConfigFileYAML is the YAML alternative looked up when ConfigFile is absent.
	ConfigFileYAML = "config.yaml"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("AUTONOMY_CONFIG")); explicit != "" {
		return expandPath(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	jsonPath := filepath.Join(home, ConfigDir, ConfigFile)
	if _, err := os.Stat(jsonPath); err == nil {
		return jsonPath, nil
	}
	yamlPath := filepath.Join(home, ConfigDir, ConfigFileYAML)
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath, nil
	}
	return jsonPath, nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("AUTONOMY_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	return os.UserHomeDir()
}

func expandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, p[1:]), nil
}

// Load builds the configuration: defaults, then the config file (path or
// ConfigPath when empty), then AUTONOMY_* environment overrides. The result is
// not validated; callers that dispatch must call Validate.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Load process env vars from ~/.autonomy/env (and fallbacks) first.
	LoadEnvFileCandidates()

	if strings.TrimSpace(path) == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		path = p
	} else {
		p, err := expandPath(path)
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := loadResolvedConfig(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Override with environment variables for each group.
	overlays := []struct {
		prefix string
		target any
	}{
		{"AUTONOMY_PATHS", &cfg.Paths},
		{"AUTONOMY_RUN", &cfg.Run},
		{"AUTONOMY_SCORING", &cfg.Scoring},
		{"AUTONOMY_HYGIENE", &cfg.Hygiene},
		{"AUTONOMY_CHANNELS_EMAIL", &cfg.Channels.Email},
		{"AUTONOMY_CHANNELS_SMS", &cfg.Channels.SMS},
		{"AUTONOMY_CHANNELS_VOICE", &cfg.Channels.Voice},
		{"AUTONOMY_TWILIO", &cfg.Channels.Twilio},
		{"AUTONOMY_STOPLOSS", &cfg.StopLoss},
		{"AUTONOMY_INBOUND", &cfg.Inbound},
		{"AUTONOMY_KAFKA", &cfg.Kafka},
		{"AUTONOMY_REPORT", &cfg.Report},
		{"AUTONOMY_METRICS", &cfg.Metrics},
		{"AUTONOMY_SCHEDULER", &cfg.Scheduler},
	}
	for _, o := range overlays {
		if err := envconfig.Process(o.prefix, o.target); err != nil {
			return nil, fmt.Errorf("env overlay %s: %w", o.prefix, err)
		}
	}

	// Common carrier env names.
	if cfg.Channels.Twilio.AccountSID == "" {
		cfg.Channels.Twilio.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.Channels.Twilio.AuthToken == "" {
		cfg.Channels.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}

	for _, p := range []*string{
		&cfg.Paths.DBPath,
		&cfg.Paths.AuditLogPath,
		&cfg.Paths.StatePath,
		&cfg.Paths.LockPath,
		&cfg.Inbound.DropFile,
		&cfg.Report.Path,
		&cfg.Metrics.TextfilePath,
	} {
		expanded, err := expandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}
	for i, src := range cfg.Run.LeadSources {
		expanded, err := expandPath(src)
		if err != nil {
			return nil, err
		}
		cfg.Run.LeadSources[i] = expanded
	}

	cfg.Run.Mode = strings.ToLower(strings.TrimSpace(cfg.Run.Mode))
	for i, ch := range cfg.Run.Priority {
		cfg.Run.Priority[i] = strings.ToLower(strings.TrimSpace(ch))
	}
	if cfg.Run.DispatchConcurrency <= 0 {
		cfg.Run.DispatchConcurrency = 1
	}
	if cfg.Scheduler.TickSeconds <= 0 {
		cfg.Scheduler.TickSeconds = 60
	}
	return cfg, nil
}

// EnsureDir ensures the parent directory of a file path exists.
func EnsureDir(filePath string) error {
	return os.MkdirAll(filepath.Dir(filePath), 0o755)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func loadResolvedConfig(path string) ([]byte, error) {
	obj, err := loadConfigObject(path, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func loadConfigObject(path string, visited map[string]struct{}) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, seen := visited[absPath]; seen {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	visited[absPath] = struct{}{}
	defer delete(visited, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	raw, err := decodeObject(absPath, data)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	if includeRaw, ok := raw["$include"]; ok {
		includeFiles, err := parseIncludes(includeRaw)
		if err != nil {
			return nil, err
		}
		baseDir := filepath.Dir(absPath)
		for _, includePath := range includeFiles {
			resolvedPath := includePath
			if !filepath.IsAbs(includePath) {
				resolvedPath = filepath.Join(baseDir, includePath)
			}
			child, err := loadConfigObject(resolvedPath, visited)
			if err != nil {
				return nil, err
			}
			deepMerge(merged, child)
		}
	}
	delete(raw, "$include")
	substituteEnvValues(raw)
	deepMerge(merged, raw)
	return merged, nil
}

// decodeObject parses JSON or YAML (by extension) into a generic object.
func decodeObject(path string, data []byte) (map[string]any, error) {
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func parseIncludes(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			if strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("$include must be a string or array of strings")
	}
}

func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		srcMap, srcIsMap := val.(map[string]any)
		if !srcIsMap {
			dst[key] = val
			continue
		}
		dstMap, dstIsMap := dst[key].(map[string]any)
		if !dstIsMap {
			dstMap = map[string]any{}
			dst[key] = dstMap
		}
		deepMerge(dstMap, srcMap)
	}
}

func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			parts := envPattern.FindStringSubmatch(match)
			if len(parts) != 2 {
				return match
			}
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
