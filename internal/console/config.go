package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"

	"cbtadmin/internal/filter"
	"cbtadmin/internal/statestore"
)

var (
	ErrConfigInvalid      = errors.New("invalid config")
	ErrConfigFileNotFound = errors.New("config file not found")
)

// ConfigFileName is looked up under the user config directory when no
// explicit path is given.
const ConfigFileName = "qbconsole.json"

// Config holds the console settings. Files may contain comments and trailing
// commas.
type Config struct {
	ServerURL    string `json:"server_url"`
	Token        string `json:"token,omitempty"`
	StatePath    string `json:"state_path"`
	StateBackend string `json:"state_backend"`
	PageSize     int    `json:"page_size,omitempty"`

	// Source is the config file that was loaded, empty when none.
	Source string `json:"-"`
}

func DefaultConfig(env map[string]string) Config {
	return Config{
		ServerURL:    "http://localhost:8080",
		StatePath:    filepath.Join(configDir(env), "qbconsole-state.json"),
		StateBackend: statestore.BackendFile,
	}
}

// LoadConfigInput holds the inputs for LoadConfig.
type LoadConfigInput struct {
	ConfigPath string            // --config; must exist when set
	Overrides  Config            // values from flags; zero fields are ignored
	Env        map[string]string // environment, CBTADMIN_TOKEN supplies the token
}

// LoadConfig merges defaults, the config file, the environment and flag
// overrides, in that order.
func LoadConfig(in LoadConfigInput) (Config, error) {
	cfg := DefaultConfig(in.Env)

	path := in.ConfigPath
	mustExist := path != ""
	if path == "" {
		if dir := configDir(in.Env); dir != "" {
			path = filepath.Join(dir, ConfigFileName)
		}
	}
	if path != "" {
		fileCfg, loaded, err := loadConfigFile(path, mustExist)
		if err != nil {
			return Config{}, err
		}
		if loaded {
			cfg = mergeConfig(cfg, fileCfg)
			cfg.Source = path
		}
	}

	if tok := strings.TrimSpace(in.Env["CBTADMIN_TOKEN"]); tok != "" {
		cfg.Token = tok
	}
	cfg = mergeConfig(cfg, in.Overrides)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if mustExist {
				return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
			}
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}
	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.ServerURL != "" {
		base.ServerURL = overlay.ServerURL
	}
	if overlay.Token != "" {
		base.Token = overlay.Token
	}
	if overlay.StatePath != "" {
		base.StatePath = overlay.StatePath
	}
	if overlay.StateBackend != "" {
		base.StateBackend = overlay.StateBackend
	}
	if overlay.PageSize != 0 {
		base.PageSize = overlay.PageSize
	}
	return base
}

func validateConfig(cfg Config) error {
	u, err := url.Parse(cfg.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: server_url must be an http(s) URL", ErrConfigInvalid)
	}
	switch cfg.StateBackend {
	case statestore.BackendFile, statestore.BackendSQLite:
	default:
		return fmt.Errorf("%w: state_backend must be %q or %q", ErrConfigInvalid, statestore.BackendFile, statestore.BackendSQLite)
	}
	if strings.TrimSpace(cfg.StatePath) == "" {
		return fmt.Errorf("%w: state_path is required", ErrConfigInvalid)
	}
	if cfg.PageSize != 0 && !filter.IsPageSize(cfg.PageSize) {
		return fmt.Errorf("%w: page_size must be one of %v", ErrConfigInvalid, filter.PageSizes)
	}
	return nil
}

func configDir(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "cbtadmin")
	}
	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "cbtadmin")
	}
	return ""
}
