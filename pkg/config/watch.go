package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/marmos91/dittonn/internal/logger"
)

// Watch reloads the configuration file whenever it changes and applies the
// new log level and format. onChange, when non-nil, receives every reloaded
// configuration that passes validation; an invalid edit is logged and
// ignored.
//
// Only the logging section takes effect without a restart.
func Watch(configPath string, onChange func(*Config)) error {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no configuration file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg, err := decode(v)
		if err == nil {
			err = Validate(cfg)
		}
		if err != nil {
			logger.Warn("Ignoring invalid configuration change", "file", e.Name, logger.KeyError, err)
			return
		}

		logger.SetLevel(cfg.Logging.Level)
		logger.SetFormat(cfg.Logging.Format)
		logger.Info("Configuration reloaded", "file", e.Name, "level", cfg.Logging.Level)

		if onChange != nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
	return nil
}
