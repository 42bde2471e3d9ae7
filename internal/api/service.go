package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"howett.net/plist"

	"github.com/dmdmdm-nz/pathmond/internal/path"
	"github.com/dmdmdm-nz/pathmond/pkg/version"
)

// ProtocolVersion is the version of the JSON and WebSocket surface.
const ProtocolVersion = "1.0.0"

// MonitorErrorHeader carries the monitoring failure on /path responses.
const MonitorErrorHeader = "X-Monitor-Error"

const shutdownTimeout = 5 * time.Second

const plistContentType = "application/x-plist"

// PathSource is the part of the path monitor the API serves from.
type PathSource interface {
	CurrentSnapshot() path.Snapshot
	Ready() bool
	Err() error
	Updates() (<-chan path.Snapshot, func())
}

// Service represents the HTTP server for the API
type Service struct {
	address string
	port    int
	src     PathSource

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	closed   bool
}

func NewService(host string, port int, src PathSource) *Service {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		address:    host,
		port:       port,
		src:        src,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
}

// Start serves the API until ctx is done or Close is called.
func (s *Service) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.address, fmt.Sprint(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Hijacked WebSocket connections outlive Shutdown unless their
		// contexts are cancelled.
		BaseContext: func(net.Listener) context.Context { return s.baseCtx },
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.server = server
	s.listener = ln
	s.mu.Unlock()

	log.Infof("Starting pathmond API service at %s", ln.Addr())
	defer log.Info("Stopping pathmond API service")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return s.Close()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Addr returns the listening address once Start has bound it.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	server := s.server
	s.mu.Unlock()

	s.cancelBase()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("API service did not shut down cleanly")
		return server.Close()
	}
	return nil
}

// Handler returns the API routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if !s.src.Ready() {
				http.Error(w, "Waiting for the first network path", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/path", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if err := s.src.Err(); err != nil {
				w.Header().Set(MonitorErrorHeader, err.Error())
			}
			snap := s.src.CurrentSnapshot()
			if wantsPlist(r) {
				writePlist(w, snap)
				return
			}
			writeJSON(w, snap)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, VersionInfo{
				Version:   version.Version,
				Commit:    version.CommitHash,
				BuildTime: version.BuildTime,
				Protocol:  ProtocolVersion,
			})
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/ws/path", func(w http.ResponseWriter, r *http.Request) {
		if err := checkProtocolVersion(r.URL.Query().Get("version")); err != nil {
			var verr *versionError
			if errors.As(err, &verr) && verr.unsatisfied {
				http.Error(w, err.Error(), http.StatusPreconditionFailed)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		StreamPath(s, w, r)
	})
	return mux
}

// VersionInfo is the /version response.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	Protocol  string `json:"protocol"`
}

func wantsPlist(r *http.Request) bool {
	return r.URL.Query().Get("format") == "plist" ||
		strings.Contains(r.Header.Get("Accept"), plistContentType)
}

func writePlist(w http.ResponseWriter, v any) {
	b, err := plist.Marshal(v, plist.XMLFormat)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to encode response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", plistContentType)
	_, _ = w.Write(b)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Add("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("Failed to encode response: %v", err), http.StatusInternalServerError)
	}
}
