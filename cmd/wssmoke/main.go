// Package main - smoke-проверка mTLS WebSocket сервера: одно соединение,
// один фрейм, лог всех ответов до закрытия.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/LLIEPJIOK/service-mesh/wssmoke/internal/config"
	"github.com/LLIEPJIOK/service-mesh/wssmoke/internal/logging"
	"github.com/LLIEPJIOK/service-mesh/wssmoke/pkg/ws"
)

var errSmokeFailed = errors.New("smoke check failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wssmoke",
		Short: "Smoke test for a mutual-TLS WebSocket server",
		Long: `Connects to a WebSocket server over mutual TLS, sends one text frame
and logs every message until the connection closes. There are no retries.

Example:
  wssmoke --url wss://server.test.com:9000 --cert client.crt --key client.key --ca ca.crt`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runSmoke,
	}

	flags := rootCmd.Flags()
	flags.StringP("config", "c", "", "Path to configuration file (YAML)")
	flags.String("url", ws.DefaultURL, "Server URL (wss only)")
	flags.String("cert", "", "Client certificate (PEM)")
	flags.String("key", "", "Client private key (PEM)")
	flags.String("ca", "", "CA certificate file or directory (PEM)")
	flags.String("base-dir", "", "Directory for relative credential paths")
	flags.String("payload", ws.DefaultPayload, "Text frame sent after the connection opens")
	flags.String("server-name", "", "TLS server name, defaults to the URL host")
	flags.String("expect-server-name", "", "Required CommonName or DNS SAN of the server certificate")
	flags.Duration("handshake-timeout", ws.DefaultHandshakeTimeout, "TLS handshake and upgrade timeout")
	flags.Duration("deadline", 0, "Close the connection after this duration (0 disables)")
	flags.String("credentials-from-env", "", "Read base64 credentials from <PREFIX>_TLS_CERT, _TLS_KEY, _TLS_CA")
	flags.StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.String("metrics-file", "", "Write Prometheus textfile metrics to this path on exit")

	return rootCmd
}

// buildConfig собирает конфиг: файл, окружение, затем явно заданные флаги.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	configPath, err := flags.GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	stringFlags := []struct {
		name   string
		target *string
	}{
		{"url", &cfg.URL},
		{"cert", &cfg.TLS.CertFile},
		{"key", &cfg.TLS.KeyFile},
		{"ca", &cfg.TLS.CAFile},
		{"base-dir", &cfg.BaseDir},
		{"payload", &cfg.Payload},
		{"server-name", &cfg.TLS.ServerName},
		{"expect-server-name", &cfg.TLS.ExpectedServerName},
		{"credentials-from-env", &cfg.TLS.FromEnv},
		{"log-level", &cfg.Logging.Level},
		{"log-format", &cfg.Logging.Format},
		{"metrics-file", &cfg.MetricsFile},
	}

	for _, f := range stringFlags {
		if !flags.Changed(f.name) {
			continue
		}

		if *f.target, err = flags.GetString(f.name); err != nil {
			return nil, fmt.Errorf("failed to get %s flag: %w", f.name, err)
		}
	}

	durationFlags := []struct {
		name   string
		target *time.Duration
	}{
		{"handshake-timeout", &cfg.HandshakeTimeout},
		{"deadline", &cfg.Deadline},
	}

	for _, f := range durationFlags {
		if !flags.Changed(f.name) {
			continue
		}

		if *f.target, err = flags.GetDuration(f.name); err != nil {
			return nil, fmt.Errorf("failed to get %s flag: %w", f.name, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func runSmoke(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cmd.OutOrStdout(), logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}).With("run_id", uuid.NewString())

	bundle, err := cfg.LoadBundle()
	if err != nil {
		logger.Error("failed to load credentials", "kind", string(ws.KindOf(err)), "error", err)
		return err
	}

	var metrics *ws.Metrics
	if cfg.MetricsFile != "" {
		metrics = ws.NewMetrics()
	}

	client, err := ws.NewClient(ws.Config{
		URL:                cfg.URL,
		Payload:            cfg.Payload,
		Credentials:        bundle,
		ServerName:         cfg.TLS.ServerName,
		ExpectedServerName: cfg.TLS.ExpectedServerName,
		HandshakeTimeout:   cfg.HandshakeTimeout,
		Deadline:           cfg.Deadline,
		Logger:             logger,
		Metrics:            metrics,
	})
	if err != nil {
		logger.Error("failed to create client", "error", err)
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", "signal", sig.String())
			_ = client.Close()
		case <-ctx.Done():
		}
	}()

	if err := client.Start(ctx); err != nil {
		return err
	}

	<-client.Done()

	if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
		logger.Warn("failed to write metrics file", "path", cfg.MetricsFile, "error", err)
	}

	return report(cmd.ErrOrStderr(), client.State(), client.Sent(), client.Err())
}

// report - итог запуска. Успех - только Closed без ошибки соединения
// с отправленным фреймом. Failed, обрыв сети или закрытие до отправки
// дают ненулевой код выхода.
func report(w io.Writer, state ws.State, sent int, err error) error {
	if state == ws.StateClosed && err == nil && sent == 1 {
		return nil
	}

	fmt.Fprintf(w, "final state %s, frames sent %d\n", state, sent)

	if err != nil {
		return fmt.Errorf("%w: %w", errSmokeFailed, err)
	}

	return fmt.Errorf("%w: final state %s, frames sent %d", errSmokeFailed, state, sent)
}
