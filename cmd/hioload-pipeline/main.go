// File: cmd/hioload-pipeline/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Command hioload-pipeline serves pipelined HTTP/1.1 requests with
// precomputed replies from a single epoll reactor.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/config"
	"github.com/momentics/hioload-pipeline/control"
	"github.com/momentics/hioload-pipeline/internal/logger"
	"github.com/momentics/hioload-pipeline/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

type flags struct {
	ConfigFile string
	Address    string
	Port       int
	MaxDepth   int
	LogLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logger.New("main").Error(err)
		if api.IsConfiguration(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	f := new(flags)

	root := &cobra.Command{
		Use:           "hioload-pipeline",
		Short:         "Pipelining HTTP/1.1 responder on an epoll reactor",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.ConfigFile, "config", "c", "", "Use a configuration file.")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Accept connections and answer pipelined requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
	}
	serve.Flags().StringVarP(&f.Address, "address", "a", "", "Bind address.")
	serve.Flags().IntVarP(&f.Port, "port", "p", 0, "Listen port.")
	serve.Flags().IntVar(&f.MaxDepth, "max-depth", 0, "Deepest pipeline answered with 200 replies.")
	serve.Flags().StringVar(&f.LogLevel, "log-level", "", "Log level: debug, info, warn, error.")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration, then print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.ConfigFile)
			if err != nil {
				return err
			}
			out, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# configuration OK\n%s", out)
			return nil
		},
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := f.ConfigFile
			if path == "" {
				path = config.GetDefaultConfigPath()
			}
			if err := config.InitConfigToPath(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file.")

	configCmd := &cobra.Command{Use: "config", Short: "Configuration helpers"}
	configCmd.AddCommand(validate, initCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hioload-pipeline %s (%s %s/%s)\n",
				version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}

	root.AddCommand(serve, configCmd, versionCmd)
	return root
}

// loadConfig applies command line overrides on top of file and environment.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.ConfigFile)
	if err != nil {
		return nil, err
	}
	fs := cmd.Flags()
	if fs.Changed("address") {
		cfg.Listener.Address = f.Address
	}
	if fs.Changed("port") {
		cfg.Listener.Port = f.Port
	}
	if fs.Changed("max-depth") {
		cfg.Pipeline.MaxDepth = f.MaxDepth
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = f.LogLevel
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, api.NewError(api.ErrCodeConfiguration, "invalid command line", err)
	}
	return cfg, nil
}

func run(cmd *cobra.Command, f *flags) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}

	closer, err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		return api.NewError(api.ErrCodeConfiguration, "configure logging", err)
	}
	defer closer.Close()
	log := logger.New("main")

	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)

	opts := []server.ServerOption{
		server.WithDebugProbes(probes),
		server.WithLogger(logger.New("server")),
	}

	var endpoint *control.Endpoint
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, server.WithMetrics(control.NewMetrics(reg)))

		endpoint, err = control.NewEndpoint(cfg.Metrics.Listen, reg, probes)
		if err != nil {
			return api.NewError(api.ErrCodeConfiguration, "metrics endpoint", err)
		}
	}

	srv, err := server.New(cfg.ServerConfig(), opts...)
	if err != nil {
		if endpoint != nil {
			_ = endpoint.Stop(context.Background())
		}
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if endpoint != nil {
		go func() {
			if err := endpoint.Serve(ctx); err != nil {
				log.WithError(err).Warn("metrics endpoint stopped")
			}
		}()
		log.Infof("metrics on http://%s/metrics", endpoint.Addr())
	}

	log.Infof("serving on %s", srv.Addr())
	err = srv.Serve(ctx)

	if endpoint != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if serr := endpoint.Stop(shutdownCtx); serr != nil && !errors.Is(serr, context.DeadlineExceeded) {
			log.WithError(serr).Warn("metrics endpoint shutdown")
		}
		cancel()
	}
	if err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
