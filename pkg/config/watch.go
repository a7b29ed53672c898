package config

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch re-reads the performance ceilings when the config file changes on
// disk and invokes onChange with the fresh values. Only the ceilings are
// hot-reloaded; everything else requires a restart.
func Watch(onChange func(PerformanceConfig)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		fresh := PerformanceConfig{
			MaxChunks: viper.GetInt("performance.max_chunks"),
			MaxBytes:  viper.GetInt("performance.max_bytes"),
			MaxDurStr: viper.GetString("performance.max_duration"),
		}
		if d, err := time.ParseDuration(fresh.MaxDurStr); err == nil {
			fresh.MaxDuration = d
		}
		if fresh.MaxChunks < 0 || fresh.MaxBytes < 0 || fresh.MaxDuration < 0 {
			return // ceilings are always >= 0, ignore bad edits
		}
		if cfg != nil {
			cfg.Performance = fresh
		}
		if onChange != nil {
			onChange(fresh)
		}
	})
	viper.WatchConfig()
}
