package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Hitchwiki/nostrhitch/internal/scheduler"
	"github.com/Hitchwiki/nostrhitch/pkg/logx"
)

// debugServer serves pprof, Prometheus metrics and a scheduler snapshot on
// a local listener. It has no auth, so it should stay bound to localhost.
type debugServer struct {
	mu   sync.Mutex
	log  logx.Logger
	srv  *http.Server
	ln   net.Listener
	addr string

	sched    *scheduler.Service
	gatherer prometheus.Gatherer
}

func newDebugServer(log logx.Logger, sched *scheduler.Service, g prometheus.Gatherer) *debugServer {
	return &debugServer{log: log, sched: sched, gatherer: g}
}

func (d *debugServer) Start(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.srv != nil {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/scheduler", d.handleScheduler)

	srv := &http.Server{Addr: addr, Handler: mux}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		d.log.Warn("debug listen failed", logx.String("addr", addr), logx.Err(err))
		return
	}
	d.srv = srv
	d.ln = ln
	d.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Warn("debug server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	d.log.Info("debug server enabled", logx.String("addr", d.addr))
}

func (d *debugServer) handleScheduler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	snap := d.sched.Snapshot()
	_ = json.NewEncoder(w).Encode(snap)
}

func (d *debugServer) Stop(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.srv == nil {
		return
	}
	srv := d.srv
	ln := d.ln
	addr := d.addr
	d.srv = nil
	d.ln = nil
	d.addr = ""

	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		d.log.Warn("debug shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	if ln != nil {
		_ = ln.Close()
	}
	d.log.Debug("debug server stopped", logx.String("addr", addr))
}

// Addr reports the actual listen address if running.
func (d *debugServer) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}
