package config

import (
	"fmt"

	"github.com/knadh/koanf/providers/file"
	"github.com/sirupsen/logrus"
)

// Watch reloads the file at path whenever it changes and passes every
// configuration that validates to onChange. Invalid edits are logged and skipped.
func Watch(path string, onChange func(*Config)) (stop func(), err error) {
	provider := file.Provider(path)

	err = provider.Watch(func(_ interface{}, watchErr error) {
		if watchErr != nil {
			logrus.Errorf("Config watcher error for %s: %v", path, watchErr)
			return
		}

		cfg, err := Load(path)
		if err != nil {
			logrus.Errorf("Failed to reload config %s: %v", path, err)
			return
		}
		if err := cfg.Validate(); err != nil {
			logrus.Errorf("Ignoring invalid config change in %s: %v", path, err)
			return
		}

		logrus.Infof("Reloaded config from %s", path)
		onChange(cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	return func() {
		if err := provider.Unwatch(); err != nil {
			logrus.Debugf("Stopping config watcher: %v", err)
		}
	}, nil
}
