package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/gorilla/mux"

	"stellarcolony.ai/internal/persistence/indexdb"
	"stellarcolony.ai/internal/persistence/objstore"
	"stellarcolony.ai/internal/sim/sessions"
	"stellarcolony.ai/internal/sim/tuning"
	"stellarcolony.ai/internal/transport/httpapi"
	"stellarcolony.ai/internal/transport/ws"
)

type routerConfig struct {
	Registry    *sessions.Registry
	Tuning      tuning.Tuning
	Index       *indexdb.SQLiteIndex
	Mirror      *objstore.Mirror
	Logger      *log.Logger
	EnableAdmin bool
	EnablePprof bool
}

func newRouter(cfg routerConfig) *mux.Router {
	r := mux.NewRouter()
	httpapi.NewServer(cfg.Registry, cfg.Tuning, cfg.Logger).Routes(r)
	r.HandleFunc("/v1/ws", ws.NewServer(cfg.Registry, cfg.Tuning, cfg.Logger).Handler())
	r.HandleFunc("/metrics", metricsHandler(cfg.Registry, cfg.Index, cfg.Mirror)).Methods(http.MethodGet)

	if cfg.EnableAdmin {
		// Local-only admin endpoints.
		admin := r.PathPrefix("/admin/v1").Subrouter()
		admin.Use(loopbackOnly)
		admin.HandleFunc("/sessions", func(rw http.ResponseWriter, r *http.Request) {
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{"sessions": cfg.Registry.List()})
		}).Methods(http.MethodGet)
		admin.HandleFunc("/sessions/{id}", func(rw http.ResponseWriter, r *http.Request) {
			id := mux.Vars(r)["id"]
			if _, err := cfg.Registry.Get(id); err != nil {
				http.Error(rw, "session not found", http.StatusNotFound)
				return
			}
			cfg.Registry.Close(id)
			rw.WriteHeader(http.StatusNoContent)
		}).Methods(http.MethodDelete)
		admin.HandleFunc("/sessions/{id}/state", func(rw http.ResponseWriter, r *http.Request) {
			sess, err := cfg.Registry.Get(mux.Vars(r)["id"])
			if err != nil {
				http.Error(rw, "session not found", http.StatusNotFound)
				return
			}
			snap, err := sess.State(r.Context())
			if err != nil {
				http.Error(rw, err.Error(), http.StatusGone)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(snap)
		}).Methods(http.MethodGet)
	} else if cfg.Logger != nil {
		cfg.Logger.Printf("admin endpoints disabled (STELLAR_ENABLE_ADMIN_HTTP=false)")
	}

	if cfg.EnablePprof {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return r
}

func metricsHandler(reg *sessions.Registry, idx *indexdb.SQLiteIndex, mirror *objstore.Mirror) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		perVariant := map[string]int{}
		for _, v := range reg.Variants() {
			perVariant[v] = 0
		}
		for _, s := range reg.List() {
			perVariant[s.Variant]++
		}
		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP stellar_sessions Live sessions.\n")
		fmt.Fprintf(rw, "# TYPE stellar_sessions gauge\n")
		fmt.Fprintf(rw, "stellar_sessions %d\n", reg.Len())
		fmt.Fprintf(rw, "# HELP stellar_sessions_by_variant Live sessions per variant.\n")
		fmt.Fprintf(rw, "# TYPE stellar_sessions_by_variant gauge\n")
		for _, v := range reg.Variants() {
			fmt.Fprintf(rw, "stellar_sessions_by_variant{variant=%q} %d\n", v, perVariant[v])
		}
		if mirror != nil {
			ms := mirror.Stats()
			fmt.Fprintf(rw, "# HELP stellar_mirror_queue_depth Object store upload queue depth.\n")
			fmt.Fprintf(rw, "# TYPE stellar_mirror_queue_depth gauge\n")
			fmt.Fprintf(rw, "stellar_mirror_queue_depth %d\n", ms.QueueDepth)
			fmt.Fprintf(rw, "# HELP stellar_mirror_uploads_total Object store uploads by outcome.\n")
			fmt.Fprintf(rw, "# TYPE stellar_mirror_uploads_total counter\n")
			fmt.Fprintf(rw, "stellar_mirror_uploads_total{outcome=%q} %d\n", "ok", ms.UploadedTotal)
			fmt.Fprintf(rw, "stellar_mirror_uploads_total{outcome=%q} %d\n", "failed", ms.FailedTotal)
			fmt.Fprintf(rw, "stellar_mirror_uploads_total{outcome=%q} %d\n", "dropped", ms.DroppedTotal)
		}
		if idx == nil {
			return
		}
		st := idx.Stats()
		fmt.Fprintf(rw, "# HELP stellar_index_queue_depth Event index queue depth.\n")
		fmt.Fprintf(rw, "# TYPE stellar_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "stellar_index_queue_depth %d\n", st.QueueDepth)
		fmt.Fprintf(rw, "# HELP stellar_index_queue_capacity Event index queue capacity.\n")
		fmt.Fprintf(rw, "# TYPE stellar_index_queue_capacity gauge\n")
		fmt.Fprintf(rw, "stellar_index_queue_capacity %d\n", st.QueueCapacity)
		fmt.Fprintf(rw, "# HELP stellar_index_dropped_total Rows dropped because the index queue was full.\n")
		fmt.Fprintf(rw, "# TYPE stellar_index_dropped_total counter\n")
		fmt.Fprintf(rw, "stellar_index_dropped_total{kind=%q} %d\n", "events", st.DropEventsTotal)
		fmt.Fprintf(rw, "stellar_index_dropped_total{kind=%q} %d\n", "sessions", st.DropSessionsTotal)
	}
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
