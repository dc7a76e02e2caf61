package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/AaronLay10/linkstage/internal/choreo"
	"github.com/AaronLay10/linkstage/internal/events"
	"github.com/AaronLay10/linkstage/internal/mqtt"
	"github.com/AaronLay10/linkstage/internal/stage"
)

// ChainReader reads committed placements.
type ChainReader interface {
	Snapshot(ctx context.Context) ([]stage.Placement, error)
}

// Queue accepts chain requests and reports pipeline progress.
type Queue interface {
	Enqueue(req choreo.Request)
	Pending() int
	Completed() int
	Rejected() int
	Busy() bool
}

var (
	chain ChainReader
	queue Queue
)

// SetChain sets the chain served by /chain.
func SetChain(c ChainReader) { chain = c }

// SetQueue sets the pipeline fed by /chain/insert and /chain/remove.
func SetQueue(q Queue) { queue = q }

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "linkstage",
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// eventsHandler serves the ring buffer, or persisted events with ?source=db.
// eventsHandler serves the in-memory ring buffer. ?source=db reads the
// persisted history instead, which is admin-only.
func eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("source") == "db" {
		RequireAdmin(dbEventsHandler)(w, r)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, events.RecentEvents(limit))
}

func dbEventsHandler(w http.ResponseWriter, r *http.Request) {
	client := events.GetPostgresClient()
	if client == nil {
		writeJSON(w, http.StatusServiceUnavailable, ChainResponse{Error: "postgres not configured"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := client.Query(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ChainResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// ChainResponse is returned by the chain endpoints.
type ChainResponse struct {
	OK         bool              `json:"ok"`
	Error      string            `json:"error,omitempty"`
	Placements []stage.Placement `json:"placements,omitempty"`
	Pending    int               `json:"pending"`
	Busy       bool              `json:"busy"`
}

func chainHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, ChainResponse{Error: "method not allowed"})
		return
	}
	if chain == nil || queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, ChainResponse{Error: "chain not running"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	placements, err := chain.Snapshot(ctx)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, ChainResponse{Error: err.Error()})
		return
	}
	if placements == nil {
		placements = []stage.Placement{}
	}

	writeJSON(w, http.StatusOK, ChainResponse{
		OK:         true,
		Placements: placements,
		Pending:    queue.Pending(),
		Busy:       queue.Busy(),
	})
}

// InsertRequest is the body of POST /chain/insert. A missing index appends.
type InsertRequest struct {
	Label string `json:"label"`
	Index *int   `json:"index,omitempty"`
}

func insertHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ChainResponse{Error: "method not allowed"})
		return
	}
	if queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, ChainResponse{Error: "chain not running"})
		return
	}

	var body InsertRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, ChainResponse{Error: "invalid JSON"})
			return
		}
	}

	req := choreo.Request{Op: choreo.OpInsert, Index: -1, Label: body.Label}
	if body.Index != nil {
		if *body.Index < 0 {
			writeJSON(w, http.StatusBadRequest, ChainResponse{Error: "index must not be negative"})
			return
		}
		req.Index = *body.Index
	}
	queue.Enqueue(req)
	writeJSON(w, http.StatusAccepted, ChainResponse{OK: true, Pending: queue.Pending(), Busy: queue.Busy()})
}

func removeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ChainResponse{Error: "method not allowed"})
		return
	}
	if queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, ChainResponse{Error: "chain not running"})
		return
	}
	queue.Enqueue(choreo.Request{Op: choreo.OpRemove, Index: -1})
	writeJSON(w, http.StatusAccepted, ChainResponse{OK: true, Pending: queue.Pending(), Busy: queue.Busy()})
}

// RenderersResponse lists renderer presence; empty when MQTT is disabled.
type RenderersResponse struct {
	Connected int                  `json:"connected"`
	Renderers []mqtt.RendererState `json:"renderers"`
}

func renderersHandler(w http.ResponseWriter, r *http.Request) {
	resp := RenderersResponse{Renderers: []mqtt.RendererState{}}
	if rd := rendererDirectory(); rd != nil {
		resp.Renderers = rd.Renderers()
		for _, st := range resp.Renderers {
			if st.Connected {
				resp.Connected++
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NewMux registers all routes. Health, readiness and metrics are public;
// the persisted event history needs admin; everything else needs any role.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler)
	mux.HandleFunc("/metrics", metricsHandler)
	mux.HandleFunc("/events", RequireAnyRole(eventsHandler))
	mux.HandleFunc("/ws/events", RequireAnyRole(wsEventsHandler))
	mux.HandleFunc("/chain", RequireAnyRole(chainHandler))
	mux.HandleFunc("/chain/insert", RequireAnyRole(insertHandler))
	mux.HandleFunc("/chain/remove", RequireAnyRole(removeHandler))
	mux.HandleFunc("/renderers", RequireAnyRole(renderersHandler))
	return mux
}

// Serve runs the API server until ctx is done, then shuts it down.
func Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewMux(),
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         LoadTLSConfig(),
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if srv.TLSConfig != nil {
			log.Printf("API listening on %s (tls)\n", srv.Addr)
			err = srv.ListenAndServeTLS("", "")
		} else {
			log.Printf("API listening on %s\n", srv.Addr)
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	events.CloseAllSubscribers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
