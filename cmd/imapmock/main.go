// Command imapmock runs the in-memory IMAP server, serving whatever
// mailbox fixtures the configuration seeds it with.
package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/picomail/imapmock/caps"
	"github.com/picomail/imapmock/config"
	"github.com/picomail/imapmock/metrics"
	"github.com/picomail/imapmock/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "imapmock",
		Short:         "In-memory IMAP server for exercising mail clients",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(serveCmd())
	return root
}

func serveCmd() *cobra.Command {
	var (
		configPath    string
		listen        string
		metricsListen string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve IMAP on the configured address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				cfg, err = config.Load(configPath)
				if err != nil {
					return err
				}
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if metricsListen != "" {
				cfg.MetricsListen = metricsListen
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: cfg.SlogLevel(),
			}))

			reg := prometheus.NewRegistry()
			s := server.New(server.Options{
				Store:    cfg.BuildStore(),
				Logger:   logger,
				Metrics:  metrics.New(reg),
				Users:    cfg.ServerUsers(),
				Greeting: cfg.Greeting,
			})

			for _, name := range cfg.Capabilities {
				if name == "ID" && len(cfg.ID) > 0 {
					caps.IDWith(cfg.ID)(s)
					continue
				}
				if err := caps.Enable(s, name); err != nil {
					return err
				}
			}

			if cfg.MetricsListen != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				go func() {
					logger.Info("metrics listening", "addr", cfg.MetricsListen)
					if err := http.ListenAndServe(cfg.MetricsListen, mux); err != nil {
						logger.Error("metrics listener failed", "err", err)
					}
				}()
			}

			return s.ListenAndServe(cfg.Listen)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVar(&listen, "listen", "", "IMAP listen address")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "HTTP listen address for /metrics")
	return cmd
}
