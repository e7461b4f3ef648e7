// Command test-server is a local target for stampede smoke runs. It accepts
// employee records on POST /employee.
package main

import (
	"os"
	"runtime"

	"github.com/spf13/pflag"

	"github.com/wesleyorama2/stampede/internal/logging"
)

func main() {
	addr := pflag.String("addr", ":8080", "Listen address")
	latency := pflag.Duration("latency", 0, "Artificial delay before every /employee response")
	failEvery := pflag.Int("fail-every", 0, "Answer 500 to every Nth /employee request (0 = never)")
	logLevel := pflag.String("log-level", "info", "Log level")
	pflag.Parse()

	logger, err := logging.New(logging.Options{Level: *logLevel})
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	srv := newServer(*addr, handlerConfig{Latency: *latency, FailEvery: int64(*failEvery)}, logger)

	logger.Info().
		Str("addr", *addr).
		Int("cpus", runtime.NumCPU()).
		Dur("latency", *latency).
		Int("fail_every", *failEvery).
		Msg("Starting test server")

	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal().Err(err).Msg("Server stopped")
	}
}
