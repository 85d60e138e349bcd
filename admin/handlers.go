package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/logtide/logtide/cfg"
	"github.com/logtide/logtide/publisher"
	"github.com/logtide/logtide/stream"
)

// AdminHandlers serves the operational endpoints of a running client:
// stream health, delivery counters and per-sink publish state.
type AdminHandlers struct {
	client   *stream.Client
	registry *publisher.Registry
	started  time.Time
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(client *stream.Client, registry *publisher.Registry) *AdminHandlers {
	return &AdminHandlers{
		client:   client,
		registry: registry,
		started:  time.Now(),
	}
}

// handleHealth reports liveness. A stream that died on a fatal error
// turns the probe unhealthy so orchestrators restart the process.
func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.client != nil {
		if err := h.client.Err(); err != nil {
			writeErrorResponse(w, http.StatusServiceUnavailable, "stream failed: "+err.Error())
			return
		}
	}
	writeJSONResponse(w, map[string]interface{}{"status": "ok"})
}

func (h *AdminHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"client_id":      cfg.Config.Proxy.ClientID,
		"proxy":          cfg.Config.Proxy.Address,
		"protocol":       cfg.Config.Stream.ProtocolVersion,
		"source":         cfg.Config.Subscription.Source,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}

	if h.client != nil {
		stats := h.client.Stats()
		streamStatus := map[string]interface{}{
			"delivered":   stats.Delivered(),
			"skipped":     stats.Skipped(),
			"reconnects":  stats.Reconnects(),
			"queue_depth": h.client.QueueDepth(),
		}
		if err := h.client.Err(); err != nil {
			streamStatus["fatal_error"] = err.Error()
		}
		status["stream"] = streamStatus
	}

	if h.registry != nil {
		sinks := map[string]interface{}{}
		for name, s := range h.registry.Stats() {
			sinks[name] = map[string]interface{}{
				"published": s.Published,
				"filtered":  s.Filtered,
				"dropped":   s.Dropped,
				"queued":    s.Queued,
			}
		}
		status["sinks"] = sinks
	}

	writeJSONResponse(w, status)
}

// handleTables lists per-table delivery counters, busiest first.
func (h *AdminHandlers) handleTables(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	type tableEntry struct {
		Table         string `json:"table"`
		Delivered     uint64 `json:"delivered"`
		LastTimestamp int64  `json:"last_timestamp"`
	}

	entries := []tableEntry{}
	if h.client != nil {
		for name, ts := range h.client.Stats().Tables() {
			entries = append(entries, tableEntry{
				Table:         name,
				Delivered:     ts.Delivered,
				LastTimestamp: ts.LastTimestamp,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Delivered != entries[j].Delivered {
			return entries[i].Delivered > entries[j].Delivered
		}
		return entries[i].Table < entries[j].Table
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	writeJSONResponse(w, entries)
}

func (h *AdminHandlers) handleSinks(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		writeJSONResponse(w, map[string]publisher.RegistryStats{})
		return
	}
	writeJSONResponse(w, h.registry.Stats())
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 256, nil // default
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("invalid limit %q", limitStr)
	}
	return limit, nil
}
