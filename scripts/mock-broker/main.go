// Command mock-broker is a minimal NGSI-LD stand-in for running the example
// configs locally. It only tracks entity IDs.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

type broker struct {
	mu       sync.RWMutex
	entities map[string]bool
	latency  time.Duration
	logger   *zap.Logger
}

func (b *broker) create(w http.ResponseWriter, r *http.Request) {
	var entity struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&entity); err != nil || entity.ID == "" {
		http.Error(w, "invalid entity", http.StatusBadRequest)
		return
	}
	time.Sleep(b.latency)

	b.mu.Lock()
	exists := b.entities[entity.ID]
	b.entities[entity.ID] = true
	b.mu.Unlock()

	if exists {
		w.WriteHeader(http.StatusConflict)
		return
	}
	b.logger.Debug("entity created", zap.String("id", entity.ID))
	w.WriteHeader(http.StatusCreated)
}

func (b *broker) updateAttr(w http.ResponseWriter, r *http.Request) {
	time.Sleep(b.latency)

	b.mu.RLock()
	exists := b.entities[r.PathValue("id")]
	b.mu.RUnlock()

	if !exists {
		http.Error(w, "entity not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func main() {
	addr := flag.String("addr", ":1026", "listen address")
	latency := flag.Duration("latency", 0, "artificial delay per request")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	b := &broker{entities: make(map[string]bool), latency: *latency, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ngsi-ld/v1/entities", b.create)
	mux.HandleFunc("PATCH /ngsi-ld/v1/entities/{id}/attrs/{attr}", b.updateAttr)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("healthy"))
	})

	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	logger.Info("mock broker listening", zap.String("addr", *addr), zap.Duration("latency", *latency))
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
