package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/trickstertwo/xrail"
)

// loadConfig merges defaults, an optional YAML file and XRAIL_* environment
// overrides. The file comes from --config or XRAIL_CONFIG.
func loadConfig(args []string) (xrail.Config, error) {
	fs := pflag.NewFlagSet("xraild", pflag.ContinueOnError)
	cfgPath := fs.String("config", os.Getenv("XRAIL_CONFIG"), "path to a YAML config file")
	fs.String("listen", "", "TCP listen address")
	fs.String("websocket", "", "WebSocket listen address")
	fs.String("control-pipe", "", "control channel FIFO path")
	fs.String("log-level", "", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return xrail.Config{}, err
	}

	v := viper.New()
	setDefaults(v, xrail.Defaults())

	if *cfgPath != "" {
		v.SetConfigFile(*cfgPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return xrail.Config{}, fmt.Errorf("read config %s: %w", *cfgPath, err)
		}
	}

	v.SetEnvPrefix("XRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"listen":       "listen",
		"websocket":    "websocket",
		"control_pipe": "control-pipe",
		"log.level":    "log-level",
	} {
		if f := fs.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return xrail.Config{}, err
			}
		}
	}

	var cfg xrail.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return xrail.Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return xrail.Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d xrail.Config) {
	v.SetDefault("listen", d.Listen)
	v.SetDefault("websocket", d.WebSocket)
	v.SetDefault("control_pipe", d.ControlPipe)
	v.SetDefault("keep_alive", d.KeepAlive)
	v.SetDefault("halt_timeout", d.HaltTimeout)

	mc := d.ModelClock
	v.SetDefault("model_clock.interval", mc.Interval)
	v.SetDefault("model_clock.multiplier", mc.Multiplier)
	v.SetDefault("model_clock.multiplier_granularity", mc.MultiplierGranularity)
	v.SetDefault("model_clock.max_multiplier", mc.MaxMultiplier)
	v.SetDefault("model_clock.sunrise", mc.Sunrise)
	v.SetDefault("model_clock.sunset", mc.Sunset)
	v.SetDefault("model_clock.start", mc.Start)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.username", d.Redis.Username)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("redis.audit_stream", d.Redis.AuditStream)
	v.SetDefault("redis.audit_max_len", d.Redis.AuditMaxLen)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.console", d.Log.Console)
}
