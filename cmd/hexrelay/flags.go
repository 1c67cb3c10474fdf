package main

import (
	"github.com/spf13/pflag"

	"github.com/Versifine/hexrelay/internal/config"
)

// parseConfig 先加载 --config 指定的文件，再用显式给出的命令行参数覆盖
func parseConfig(fs *pflag.FlagSet, args []string) (*config.Config, error) {
	def := config.Default()
	configPath := fs.String("config", "", "optional YAML config file")
	listen := fs.String("listen", def.Listen.Host, "listen address")
	lport := fs.Int("lport", def.Listen.Port, "listen port")
	remote := fs.String("remote", def.Remote.Host, "remote address")
	rport := fs.Int("rport", def.Remote.Port, "remote port")
	backlog := fs.Int("backlog", def.Listen.Backlog, "accept backlog")
	grace := fs.Duration("grace", def.Shutdown.Grace, "close lingering connections this long after shutdown (0 leaves them running)")
	level := fs.String("log-level", def.Logging.Level, "log level: debug, info, warn, error")
	format := fs.String("log-format", def.Logging.Format, "log format: console, text, json")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := def
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	overrides := []struct {
		name  string
		apply func()
	}{
		{"listen", func() { cfg.Listen.Host = *listen }},
		{"lport", func() { cfg.Listen.Port = *lport }},
		{"remote", func() { cfg.Remote.Host = *remote }},
		{"rport", func() { cfg.Remote.Port = *rport }},
		{"backlog", func() { cfg.Listen.Backlog = *backlog }},
		{"grace", func() { cfg.Shutdown.Grace = *grace }},
		{"log-level", func() { cfg.Logging.Level = *level }},
		{"log-format", func() { cfg.Logging.Format = *format }},
	}
	for _, o := range overrides {
		if fs.Changed(o.name) {
			o.apply()
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
