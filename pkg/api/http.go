// Package api exposes the block storage engine over HTTP and gRPC. Per
// the engine's scope, these are thin, unauthenticated wire adapters
// around the core — the interesting logic lives in internal/blockstore.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elzor/vstorage/internal/blockstore"
	"github.com/elzor/vstorage/internal/log"
	"github.com/elzor/vstorage/internal/metrics"
)

const greeting = "The little block engine that could!"

// HTTPServer serves the block CRUD surface, the status aggregate, and
// Prometheus metrics. Header names and status codes below are chosen to
// match the original engine's wire contract exactly, since the
// distilled spec only names the surface and leaves the details to it.
type HTTPServer struct {
	engine    *blockstore.Engine
	collector *blockstore.StatusCollector
	mux       *http.ServeMux
}

func NewHTTPServer(engine *blockstore.Engine, collector *blockstore.StatusCollector) *HTTPServer {
	s := &HTTPServer{engine: engine, collector: collector, mux: http.NewServeMux()}
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/index.html", s.handleIndex)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/block/", s.handleBlock)
	return s
}

func (s *HTTPServer) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *HTTPServer) Handler() http.Handler { return s.mux }

func (s *HTTPServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	fmt.Fprint(w, greeting)
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.collector.Collect()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, st)
}

func (s *HTTPServer) handleBlock(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/block/")
	switch r.Method {
	case http.MethodHead:
		s.headBlock(w, id)
	case http.MethodGet:
		s.getBlock(w, r, id)
	case http.MethodPut:
		s.putBlock(w, r, id, true)
	case http.MethodPost:
		s.putBlock(w, r, id, false)
	case http.MethodDelete:
		s.deleteBlock(w, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *HTTPServer) headBlock(w http.ResponseWriter, id string) {
	exists, err := s.engine.Exists(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusFound)
}

func (s *HTTPServer) getBlock(w http.ResponseWriter, r *http.Request, id string) {
	ifNoneMatch := strings.Trim(r.Header.Get("If-None-Match"), `"`)
	acceptCompressed := strings.Contains(r.Header.Get("Accept-Encoding"), "lz4")

	timer := metrics.NewTimer()
	block, payload, err := s.engine.Get(id, ifNoneMatch, acceptCompressed)
	timer.ObserveDurationVec(metrics.BlockOpDuration, "get")

	switch {
	case err == nil:
		// fallthrough below
	case err == blockstore.ErrNotModified:
		w.WriteHeader(http.StatusNotModified)
		return
	case err == blockstore.ErrNotFound:
		http.NotFound(w, r)
		return
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.Header().Set("ETag", `"`+block.CRC+`"`)
	w.Header().Set("Server", "vbs")
	w.Header().Set("Last-Modified", block.Created.Format(http.TimeFormat))
	if block.Compressed && acceptCompressed {
		w.Header().Set("Content-Encoding", "lz4")
	}
	_, _ = w.Write(payload)
}

func (s *HTTPServer) putBlock(w http.ResponseWriter, r *http.Request, id string, create bool) {
	if create && id == "" {
		http.Error(w, "PUT requires an id", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if cl := r.Header.Get("Content-Length"); cl != "" {
		if declared, convErr := strconv.Atoi(cl); convErr == nil && declared != len(body) {
			http.Error(w, "content-length mismatch", http.StatusLengthRequired)
			return
		}
	}

	opts := blockstore.InsertOptions{
		ContentType: r.Header.Get("Content-Type"),
		Compress:    r.Header.Get("v-compress") == "lz4",
		HashFun:     parseHashFun(r.Header.Get("v-hash-fun")),
		Hash:        r.Header.Get("v-hash"),
	}
	objectID := r.Header.Get("v-object-id")

	var block *blockstore.Block
	if create {
		block, err = s.engine.Insert(id, objectID, body, opts)
	} else {
		block, err = s.engine.Upsert(id, objectID, body, opts)
	}

	switch {
	case err == nil:
		if create || id != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, block.ID)
		return
	case err == blockstore.ErrAlreadyExists:
		w.WriteHeader(http.StatusConflict)
	case err == blockstore.ErrTooLarge:
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	case err == blockstore.ErrNoCapacity:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *HTTPServer) deleteBlock(w http.ResponseWriter, id string) {
	err := s.engine.Delete(id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case err == blockstore.ErrNotFound:
		w.WriteHeader(http.StatusNotFound)
	default:
		log.WithBlockID(id).Error().Err(err).Msg("delete failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseHashFun(header string) blockstore.HashFun {
	switch header {
	case "0":
		return blockstore.HashOther
	case "1":
		return blockstore.HashMD5
	case "2":
		return blockstore.HashSHA128
	case "3":
		return blockstore.HashSHA256
	case "4":
		return blockstore.HashHGW128
	default:
		return blockstore.HashHGW128
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	_ = json.NewEncoder(w).Encode(v)
}
