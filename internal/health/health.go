// SPDX-License-Identifier: MIT

// Package health provides an HTTP health check endpoint for the daemon.
//
// The health check exposes status at /healthz as JSON, suitable for
// systemd watchdog, load balancer probes, or monitoring systems. A
// Prometheus-compatible /metrics endpoint is also served.
//
// Adapted from the teacher's internal/health/health.go: same
// Handler/ServiceInfo/ListenAndServeReady shape, repurposed from
// per-FFmpeg-stream status (uptime, restart/failure counters) to
// per-module status plus dispatcher queue depth and cache pending count.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ServiceInfo describes the health state of a single module.
type ServiceInfo struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// PipelineInfo contains core dispatcher/cache health data included in the
// health response.
type PipelineInfo struct {
	QueueDepth    int `json:"queue_depth"`
	CachePending  int `json:"cache_pending"`
}

// StatusProvider returns the current health status of all modules.
// The daemon implements this interface to supply live data.
type StatusProvider interface {
	Services() []ServiceInfo
}

// PipelineInfoProvider returns dispatcher/cache health data.
// The daemon implements this interface to supply live queue/cache depth.
type PipelineInfoProvider interface {
	PipelineInfo() PipelineInfo
}

// Response is the JSON body returned by the health endpoint.
type Response struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Services  []ServiceInfo `json:"services"`
	Pipeline  *PipelineInfo `json:"pipeline,omitempty"`
}

// Handler serves the /healthz and /metrics endpoints.
type Handler struct {
	provider         StatusProvider
	pipelineProvider PipelineInfoProvider
}

// NewHandler creates a health check HTTP handler.
func NewHandler(provider StatusProvider) *Handler {
	return &Handler{provider: provider}
}

// WithPipelineInfo attaches an optional dispatcher/cache info provider to
// the handler. When set, queue depth and cache pending count are included
// in /healthz responses and /metrics output.
func (h *Handler) WithPipelineInfo(p PipelineInfoProvider) *Handler {
	h.pipelineProvider = p
	return h
}

// ServeHTTP implements http.Handler, routing to /healthz and /metrics.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/metrics":
		h.serveMetrics(w, r)
	default:
		h.serveHealth(w, r)
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := Response{
		Timestamp: time.Now(),
	}

	var services []ServiceInfo
	if h.provider != nil {
		services = h.provider.Services()
	}
	resp.Services = services

	healthy := len(services) > 0
	for _, svc := range services {
		if !svc.Healthy {
			healthy = false
			break
		}
	}

	if h.pipelineProvider != nil {
		pi := h.pipelineProvider.PipelineInfo()
		resp.Pipeline = &pi
	}

	if healthy {
		resp.Status = "healthy"
	} else {
		resp.Status = "unhealthy"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// serveMetrics writes a Prometheus text-format metrics response. This
// implements a minimal subset of the exposition format without any
// external dependency, following the teacher's own explicit choice to
// avoid prometheus/client_golang.
func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var sb strings.Builder

	var services []ServiceInfo
	if h.provider != nil {
		services = h.provider.Services()
	}

	if len(services) > 0 {
		fmt.Fprintln(&sb, "# HELP nowplayd_module_healthy Is the module currently healthy (1=healthy, 0=not).")
		fmt.Fprintln(&sb, "# TYPE nowplayd_module_healthy gauge")
		for _, svc := range services {
			v := 0
			if svc.Healthy {
				v = 1
			}
			fmt.Fprintf(&sb, "nowplayd_module_healthy{module=%q,kind=%q} %d\n", svc.Name, svc.Kind, v)
		}
	}

	if h.pipelineProvider != nil {
		pi := h.pipelineProvider.PipelineInfo()

		fmt.Fprintln(&sb, "# HELP nowplayd_queue_depth Songs currently queued in the dispatcher.")
		fmt.Fprintln(&sb, "# TYPE nowplayd_queue_depth gauge")
		fmt.Fprintf(&sb, "nowplayd_queue_depth %d\n", pi.QueueDepth)

		fmt.Fprintln(&sb, "# HELP nowplayd_cache_pending Songs pending at least one output in the cache.")
		fmt.Fprintln(&sb, "# TYPE nowplayd_cache_pending gauge")
		fmt.Fprintf(&sb, "nowplayd_cache_pending %d\n", pi.CachePending)
	}

	self := readSelfStats()
	fmt.Fprintln(&sb, "# HELP nowplayd_process_open_fds Open file descriptors held by the daemon.")
	fmt.Fprintln(&sb, "# TYPE nowplayd_process_open_fds gauge")
	fmt.Fprintf(&sb, "nowplayd_process_open_fds %d\n", self.FileDescriptors)

	fmt.Fprintln(&sb, "# HELP nowplayd_process_resident_memory_bytes Resident memory of the daemon process.")
	fmt.Fprintln(&sb, "# TYPE nowplayd_process_resident_memory_bytes gauge")
	fmt.Fprintf(&sb, "nowplayd_process_resident_memory_bytes %d\n", self.MemoryBytes)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// ListenAndServe starts the health check HTTP server on the given address.
// It shuts down gracefully when ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	return ListenAndServeReady(ctx, addr, handler, nil)
}

// ListenAndServeReady starts the health check HTTP server and signals
// readiness. Binds the listener synchronously, so port-in-use errors are
// returned immediately rather than surfacing only after ctx.Done(). Once
// bound, ready is closed (if non-nil).
func ListenAndServeReady(ctx context.Context, addr string, handler http.Handler, ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if ready != nil {
		close(ready)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return <-errCh
}
