// Command rtmrecorder subscribes to a set of channels and filters and
// appends every delivered message to an NDJSON file, reconnecting and
// resuming from the last recorded position when the connection drops.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rtmvideo/rtm-client-go/rtm"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	overrides := &recorderConfig{}

	cmd := &cobra.Command{
		Use:           "rtmrecorder",
		Short:         "Record channel traffic to an NDJSON file",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := resolveConfig(configPath, overrides)
			if err != nil {
				return err
			}
			return run(config)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&overrides.Endpoint, "endpoint", "", "WebSocket endpoint, e.g. wss://host:443")
	flags.StringVar(&overrides.AppKey, "appkey", "", "application key")
	flags.StringVarP(&overrides.Output, "output", "o", "", "output NDJSON file (default recording.ndjson)")
	flags.StringSliceVar(&overrides.Channels, "channel", nil, "channel to record (repeatable)")
	flags.StringSliceVar(&overrides.Filters, "filter", nil, "filter expression to record (repeatable)")
	flags.Uint64Var(&overrides.HistoryCount, "history-count", 0, "request the last N messages on subscribe")
	flags.BoolVar(&overrides.FastForward, "fast-forward", false, "start at the channel head, skipping backlog")
	flags.BoolVar(&overrides.TLSInsecure, "tls-insecure", false, "skip server certificate verification")
	flags.BoolVarP(&overrides.Verbose, "verbose", "v", false, "debug logging")
	return cmd
}

// resolveConfig layers command-line overrides on top of the optional YAML
// file.
func resolveConfig(configPath string, overrides *recorderConfig) (*recorderConfig, error) {
	config := &recorderConfig{}
	if configPath != "" {
		loaded, err := loadConfig(configPath)
		if err != nil {
			return nil, err
		}
		config = loaded
	}
	if overrides.Endpoint != "" {
		config.Endpoint = overrides.Endpoint
	}
	if overrides.AppKey != "" {
		config.AppKey = overrides.AppKey
	}
	if overrides.Output != "" {
		config.Output = overrides.Output
	}
	config.Channels = append(config.Channels, overrides.Channels...)
	config.Filters = append(config.Filters, overrides.Filters...)
	if overrides.HistoryCount > 0 {
		config.HistoryCount = overrides.HistoryCount
	}
	config.FastForward = config.FastForward || overrides.FastForward
	config.TLSInsecure = config.TLSInsecure || overrides.TLSInsecure
	config.Verbose = config.Verbose || overrides.Verbose
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(config *recorderConfig) error {
	logger, err := newLogger(config.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	endpoints := config.endpointList()
	transport := rtm.Config{
		Endpoint:    endpoints[0],
		AppKey:      config.AppKey,
		TLSInsecure: config.TLSInsecure,
	}
	strategy := rtm.NewExponentialDelayStrategy(
		config.Reconnect.BaseDelay.value(),
		config.Reconnect.MaxDelay.value(),
		config.Reconnect.Factor,
	)

	loop := rtm.NewEventLoop()
	go loop.Run()
	defer loop.Stop()

	factory := rtm.WithBackoff(rtm.WithEndpoints(transport, loop, logger, endpoints...), strategy)
	resilient := rtm.NewResilientClient(loop, factory, rtm.ErrorCallbackFunc(func(condition rtm.ErrorCondition) {
		logger.Warn("transport error, reconnecting", zap.Error(condition))
	})).SetLogger(logger)
	client := rtm.NewThreadBoundClient(loop, resilient).SetLogger(logger)

	if condition := client.Start(); condition != nil {
		return fmt.Errorf("connect failed: %w", condition)
	}
	defer func() { _ = client.Stop() }()

	rec, err := newRecorder(client, config.Output, logger)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer func() { _ = rec.Close() }()
	rec.subscribeAll(config)

	logger.Info("recording",
		zap.Strings("endpoints", endpoints),
		zap.Strings("channels", config.Channels),
		zap.Strings("filters", config.Filters),
		zap.String("output", config.Output))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("shutting down",
		zap.String("signal", sig.String()),
		zap.Uint64("recorded", rec.recorded()))
	return nil
}
