package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Versifine/hexrelay/internal/hexdump"
	"github.com/Versifine/hexrelay/internal/logger"
	"github.com/Versifine/hexrelay/internal/proxy"
)

func main() {
	fs := pflag.NewFlagSet("hexrelay", pflag.ContinueOnError)
	cfg, err := parseConfig(fs, os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := proxy.NewServer(
		cfg.ListenAddr(),
		cfg.RemoteAddr(),
		proxy.WithBacklog(cfg.Listen.Backlog),
		proxy.WithShutdownGrace(cfg.Shutdown.Grace),
		proxy.WithSink(newSink(cfg.Logging.Format, logger.L(), logger.Output())),
		proxy.WithLogger(logger.L()),
	)
	err = server.Start(ctx)
	if err != nil {
		logger.L().Error("Failed to start relay", "error", err)
		os.Exit(1)
	}
}

// newSink 控制台格式沿用三行文本布局，其余格式输出结构化记录
func newSink(format string, l *slog.Logger, w io.Writer) hexdump.Sink {
	switch format {
	case "json", "text":
		return hexdump.NewLogSink(l)
	default:
		return hexdump.NewTextSink(w)
	}
}
