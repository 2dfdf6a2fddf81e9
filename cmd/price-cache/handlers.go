package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/market-price-cache/pkg/cache"
	"github.com/Sternrassler/market-price-cache/pkg/metrics"
	"github.com/Sternrassler/market-price-cache/pkg/quote"
	"github.com/Sternrassler/market-price-cache/pkg/ratelimit"
	"github.com/rs/zerolog/log"
)

type pricingResponse struct {
	Result cache.Result `json:"result"`
	Quote  *quote.Quote `json:"quote,omitempty"`
}

type allWorldsResponse struct {
	ItemID uint32         `json:"item_id"`
	Worlds []uint32       `json:"worlds"`
	Quotes []*quote.Quote `json:"quotes"`
	Queued bool           `json:"queued"`
}

type checkResponse struct {
	Accepted  bool `json:"accepted"`
	Requested int  `json:"requested"`
}

type statusResponse struct {
	ratelimit.Status
	Quotes      int   `json:"quotes"`
	InFlight    int   `json:"in_flight"`
	Pending     int   `json:"pending"`
	QueuedItems int64 `json:"queued_items"`
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", a.readyHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/pricing", a.pricingHandler)
	mux.HandleFunc("/check", a.checkHandler)
	mux.HandleFunc("/status", a.statusHandler)
	mux.HandleFunc("/cache", a.clearHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (a *app) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "READY")
}

// GET /pricing?item=5333&world=21[&ignore_cache=true][&force=true]
// GET /pricing?item=5333&world=all[&force=true]
func (a *app) pricingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	itemID, err := parseID(q.Get("item"))
	if err != nil {
		http.Error(w, "item: "+err.Error(), http.StatusBadRequest)
		return
	}
	ignoreCache, err := parseFlag(q.Get("ignore_cache"))
	if err != nil {
		http.Error(w, "ignore_cache: "+err.Error(), http.StatusBadRequest)
		return
	}
	force, err := parseFlag(q.Get("force"))
	if err != nil {
		http.Error(w, "force: "+err.Error(), http.StatusBadRequest)
		return
	}

	if q.Get("world") == "all" {
		a.allWorldsPricing(w, itemID, force)
		return
	}
	worldID, err := parseID(q.Get("world"))
	if err != nil {
		http.Error(w, "world: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, pricing := a.cache.GetPricing(itemID, worldID, ignoreCache, force)

	status := http.StatusOK
	switch result {
	case cache.ResultQueued, cache.ResultAlreadyQueued:
		status = http.StatusAccepted
	case cache.ResultNoPricing:
		status = http.StatusNotFound
	case cache.ResultUntradable:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, pricingResponse{Result: result, Quote: pricing})
}

// allWorldsPricing answers from the cache only. force queues a check on
// every configured world.
func (a *app) allWorldsPricing(w http.ResponseWriter, itemID uint32, force bool) {
	resp := allWorldsResponse{
		ItemID: itemID,
		Worlds: a.cache.Worlds(),
		Quotes: a.cache.PricingAllWorlds(itemID),
	}
	if force {
		a.cache.RequestCheckWorlds(itemID, resp.Worlds, true)
		resp.Queued = len(resp.Worlds) > 0
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /check?item=1,2&world=21,22[&force=true]
func (a *app) checkHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	itemIDs, err := parseIDs(q.Get("item"))
	if err != nil {
		http.Error(w, "item: "+err.Error(), http.StatusBadRequest)
		return
	}
	worldIDs, err := parseIDs(q.Get("world"))
	if err != nil {
		http.Error(w, "world: "+err.Error(), http.StatusBadRequest)
		return
	}
	force, err := parseFlag(q.Get("force"))
	if err != nil {
		http.Error(w, "force: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp := checkResponse{Requested: len(itemIDs) * len(worldIDs)}
	switch {
	case len(itemIDs) == 1 && len(worldIDs) == 1:
		resp.Accepted = a.cache.RequestCheck(itemIDs[0], worldIDs[0], force)
	case len(worldIDs) == 1:
		a.cache.RequestCheckItems(itemIDs, worldIDs[0], force)
		resp.Accepted = true
	case len(itemIDs) == 1:
		a.cache.RequestCheckWorlds(itemIDs[0], worldIDs, force)
		resp.Accepted = true
	default:
		a.cache.RequestChecks(itemIDs, worldIDs, force)
		resp.Accepted = true
	}

	status := http.StatusAccepted
	if !resp.Accepted {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *app) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:      a.worker.State().Status(),
		Quotes:      a.cache.Len(),
		InFlight:    a.cache.InFlightCount(),
		Pending:     a.sched.Pending(),
		QueuedItems: a.worker.QueuedCount(),
	})
}

// DELETE /cache[?item=5333&world=21]
func (a *app) clearHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	if q.Has("item") || q.Has("world") {
		itemID, err := parseID(q.Get("item"))
		if err != nil {
			http.Error(w, "item: "+err.Error(), http.StatusBadRequest)
			return
		}
		worldID, err := parseID(q.Get("world"))
		if err != nil {
			http.Error(w, "world: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := a.cache.Remove(r.Context(), itemID, worldID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := a.cache.Clear(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func parseID(s string) (uint32, error) {
	if s == "" {
		return 0, fmt.Errorf("required")
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint32(v), nil
}

func parseIDs(s string) ([]uint32, error) {
	if s == "" {
		return nil, fmt.Errorf("required")
	}
	parts := strings.Split(s, ",")
	ids := make([]uint32, 0, len(parts))
	for _, p := range parts {
		id, err := parseID(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseFlag(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
