package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppName names the config file, env prefix and app dirs.
const (
	AppName   = "golivy"
	EnvPrefix = "GOLIVY"
)

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// SetConfigFile pins the config file used by Load. Empty restores the
// search in the user config dir and the working directory.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// EnvSpec maps a short environment variable onto a config path.
type EnvSpec struct {
	Name string
	Path string
}

// getEnvSpecs lists the short env aliases. Every other key is reachable as
// GOLIVY_<PATH> with dots replaced by underscores.
func getEnvSpecs() []EnvSpec {
	return []EnvSpec{
		{Name: EnvPrefix + "_HOST", Path: "server.host"},
		{Name: EnvPrefix + "_PORT", Path: "server.port"},
		{Name: EnvPrefix + "_READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: EnvPrefix + "_WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: EnvPrefix + "_SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: EnvPrefix + "_LOG_LEVEL", Path: "logging.level"},
		{Name: EnvPrefix + "_LOG_PROFILE", Path: "logging.profile"},
		{Name: EnvPrefix + "_METRICS_ENABLED", Path: "metrics.enabled"},
		{Name: EnvPrefix + "_STATE_BACKEND", Path: "state.backend"},
		{Name: EnvPrefix + "_STATE_DIR", Path: "state.dir"},
		{Name: EnvPrefix + "_MAX_ATTEMPTS", Path: "runner.max_attempts"},
	}
}

// DataDir is the app data dir that holds task state and the registry.
func DataDir() (string, error) {
	dir := gfconfig.GetAppDataDir(AppName)
	if !filepath.IsAbs(dir) {
		return "", fmt.Errorf("resolve app data dir: neither XDG_DATA_HOME nor HOME is set")
	}
	return dir, nil
}

func getUserConfigPaths() []string {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, AppName))
	}
	paths = append(paths, ".")
	return paths
}

// SetDefaults registers golivy's defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("livy.host", "")
	v.SetDefault("livy.port", 8998)
	v.SetDefault("livy.https", false)
	v.SetDefault("livy.connect_timeout", 30)
	v.SetDefault("livy.read_timeout", 30)
	v.SetDefault("livy.write_timeout", 30)
	v.SetDefault("livy.username", "")
	v.SetDefault("livy.password", "")

	v.SetDefault("state.backend", "file")
	v.SetDefault("state.dir", "")
	for _, k := range []string{"path", "url", "auth_token"} {
		v.SetDefault("state.sqlite."+k, "")
	}
	for _, k := range []string{"bucket", "prefix", "region", "endpoint", "profile", "access_key_id", "secret_access_key"} {
		v.SetDefault("state.s3."+k, "")
	}
	v.SetDefault("state.s3.force_path_style", false)
	v.SetDefault("registry.dir", "")
	v.SetDefault("registry.heartbeat_interval", "30s")
	v.SetDefault("registry.gc_max_age", "168h")

	v.SetDefault("runner.max_attempts", 0)
	v.SetDefault("runner.rate_limit", 0)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "console")

	v.SetDefault("metrics.enabled", false)
}

// Load resolves the configuration and makes it the current one for
// GetConfig. Later overrides win over earlier ones and over every other
// source.
func Load(_ context.Context, overrides ...map[string]any) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	configMu.RLock()
	file := configFile
	configMu.RUnlock()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		for _, p := range getUserConfigPaths() {
			v.AddConfigPath(p)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(spec.Path, ".", "_")), spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for k, val := range flatten("", o) {
			v.Set(k, val)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// ConfigFileUsed reports the file Load would read, for diagnostics.
func ConfigFileUsed() string {
	configMu.RLock()
	defer configMu.RUnlock()
	return configFile
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
