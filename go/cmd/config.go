package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/winlinos/dwce/go/models"
)

// flags that map onto config keys
var flagKeys = map[string]string{
	"verbose":     "verbose",
	"log-level":   "log_level",
	"prefix":      "load_prefix",
	"color":       "color",
	"profile-dir": "profile_dir",
}

// LoadConfig merges, from lowest to highest priority, the defaults, a
// dwce.{toml,yaml,json} file, DWCE_* environment variables and any flags
// set on fs. fs may be nil.
func LoadConfig(fs *pflag.FlagSet) (*models.Config, error) {
	def := models.DefaultConfig()
	v := viper.New()
	v.SetDefault("verbose", false)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("color", "auto")
	v.SetDefault("terminate_timeout", def.TerminateTimeout)
	v.SetDefault("kill_grace", def.KillGrace)
	v.SetDefault("cache_size", def.CacheSize)
	v.SetDefault("max_read_size", def.MaxReadSize)
	v.SetDefault("max_alloc_size", def.MaxAllocSize)
	v.SetDefault("profile_dir", "")
	v.SetDefault("load_prefix", "")

	configFile := os.Getenv("DWCE_CONFIG")
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Changed {
			configFile = f.Value.String()
		}
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.WithStack(err)
				}
			}
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("dwce")
		for _, dir := range configdir.New("", "dwce").QueryFolders(configdir.All) {
			v.AddConfigPath(dir.Path)
		}
	}
	v.SetEnvPrefix("DWCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	config := &models.Config{
		Color:            colorEnabled(v.GetString("color")),
		Verbose:          v.GetBool("verbose"),
		LogLevel:         v.GetString("log_level"),
		TerminateTimeout: v.GetDuration("terminate_timeout"),
		KillGrace:        v.GetDuration("kill_grace"),
		CacheSize:        v.GetInt("cache_size"),
		MaxReadSize:      v.GetInt("max_read_size"),
		MaxAllocSize:     v.GetUint64("max_alloc_size"),
		ProfileDir:       v.GetString("profile_dir"),
		Runners:          def.Runners,
	}
	for family, argv := range v.GetStringMapStringSlice("runners") {
		config.Runners[strings.ToLower(family)] = argv
	}
	if prefix := v.GetString("load_prefix"); prefix != "" {
		abs, err := filepath.Abs(prefix)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		config.LoadPrefix = abs
	}
	if config.TerminateTimeout <= 0 {
		return nil, errors.Errorf("terminate_timeout must be positive, got %s", config.TerminateTimeout)
	}
	if config.MaxReadSize <= 0 || config.MaxAllocSize == 0 {
		return nil, errors.Errorf("max_read_size and max_alloc_size must be positive")
	}
	return config, nil
}
