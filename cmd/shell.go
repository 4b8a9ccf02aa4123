// Package cmd provides the shared bootstrap underlying the petconnect
// binaries: JSON configuration loading with struct validation, metrics
// and logging setup, and signal handling.
//
// All commands share the same invocation pattern: a single "-config"
// flag naming a JSON file that is unmarshalled into the binary's Config
// struct.
package cmd

import (
	"encoding/json"
	"fmt"
	"log/syslog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	validator "github.com/letsencrypt/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	blog "github.com/i-bosquet/petconnect/log"
)

// ReadConfigFile unmarshals the JSON config file at path into out and
// validates any `validate` struct tags.
func ReadConfigFile(path string, out interface{}) error {
	configData, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %q: %w", path, err)
	}
	if err := json.Unmarshal(configData, out); err != nil {
		return fmt.Errorf("parsing config file %q: %w", path, err)
	}
	validate := validator.New()
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("validating config file %q: %w", path, err)
	}
	return nil
}

// FailOnError exits and prints an error message if we encountered a
// problem.
func FailOnError(err error, msg string) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %s\n", msg, err)
	os.Exit(1)
}

// StatsAndLogging sets up the audit logger and a prometheus registry,
// and serves the metrics handler on debugAddr when non-empty.
func StatsAndLogging(syslogNetwork, syslogAddr, debugAddr string) (blog.Logger, prometheus.Registerer, error) {
	syslogWriter, err := syslog.Dial(syslogNetwork, syslogAddr, syslog.LOG_INFO|syslog.LOG_LOCAL0, "petconnect")
	if err != nil {
		// Syslog is optional in development; fall back to stdout only.
		syslogWriter = nil
	}
	logger, err := blog.New(syslogWriter, int(syslog.LOG_DEBUG))
	if err != nil {
		return nil, nil, err
	}
	_ = blog.Set(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if debugAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: debugAddr, Handler: mux}
		go func() {
			err := server.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				logger.Err(fmt.Sprintf("debug server on %s failed: %s", debugAddr, err))
			}
		}()
	}

	return logger, registry, nil
}

// CatchSignals blocks until SIGTERM or SIGINT arrives, then runs the
// callback and exits.
func CatchSignals(logger blog.Logger, callback func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.Info(fmt.Sprintf("caught %s, shutting down", sig))
	if callback != nil {
		callback()
	}
	os.Exit(0)
}
