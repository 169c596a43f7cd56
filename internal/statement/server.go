package statement

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"bankscan/internal/analysis"
)

// StatsSource exposes orchestrator counters for the health endpoint.
type StatsSource interface {
	Stats() analysis.Stats
}

// BasicAuth holds basic authentication credentials. The authenticated
// username doubles as the job owner identity.
type BasicAuth struct {
	Username string
	Password string
}

// anonymousUser is the owner identity when auth is not configured.
const anonymousUser = "default"

// Server handles HTTP requests for statement extraction
type Server struct {
	service       *Service
	stats         StatsSource
	basicAuth     BasicAuth
	maxUploadSize int64
	mux           *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, stats StatsSource, basicAuth BasicAuth, maxUploadSize int64) *Server {
	return NewServerWithMux(service, stats, basicAuth, maxUploadSize, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, stats StatsSource, basicAuth BasicAuth, maxUploadSize int64, mux *http.ServeMux) *Server {
	if maxUploadSize <= 0 {
		maxUploadSize = 50 << 20
	}
	s := &Server{
		service:       service,
		stats:         stats,
		basicAuth:     basicAuth,
		maxUploadSize: maxUploadSize,
		mux:           mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials and returns the caller
// identity.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return anonymousUser, true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return "", false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return "", false
	}
	if credentials[0] != s.basicAuth.Username || credentials[1] != s.basicAuth.Password {
		return "", false
	}
	return credentials[0], true
}

// authedHandler is a handler that has resolved the caller identity.
type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

// requireAuth middleware
func (s *Server) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.authenticate(r)
		if !ok {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="bankscan"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, userID)
	}
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/statements/batch", s.requireAuth(s.handleAnalyzeBatch))
	s.mux.HandleFunc("POST /api/statements", s.requireAuth(s.handleAnalyze))

	s.mux.HandleFunc("GET /api/jobs/{id}/export", s.requireAuth(s.handleExportJob))
	s.mux.HandleFunc("POST /api/jobs/{id}/cancel", s.requireAuth(s.handleCancelJob))
	s.mux.HandleFunc("GET /api/jobs/{id}", s.requireAuth(s.handleGetJob))
	s.mux.HandleFunc("GET /api/jobs", s.requireAuth(s.handleListJobs))
	s.mux.HandleFunc("POST /api/jobs", s.requireAuth(s.handleCreateJob))

	s.mux.HandleFunc("GET /api/health", s.handleHealth)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
