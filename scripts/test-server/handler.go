package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type handlerConfig struct {
	Latency   time.Duration
	FailEvery int64
}

type employeeHandler struct {
	cfg      handlerConfig
	received atomic.Int64
	logger   zerolog.Logger
}

// ServeHTTP decodes one JSON record and acknowledges it.
func (h *employeeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var record map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		h.logger.Debug().Err(err).Msg("Rejected record")
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	n := h.received.Add(1)
	if h.cfg.Latency > 0 {
		time.Sleep(h.cfg.Latency)
	}
	if h.cfg.FailEvery > 0 && n%h.cfg.FailEvery == 0 {
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","id":%q}`, fmt.Sprint(record["id"]))
}

func newMux(cfg handlerConfig, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/employee", &employeeHandler{cfg: cfg, logger: logger})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "healthy")
	})
	return mux
}

func newServer(addr string, cfg handlerConfig, logger zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           newMux(cfg, logger),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5*time.Second + cfg.Latency,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}
}
