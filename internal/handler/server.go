package handler

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/rcarmo/md4sat/internal/config"
	"github.com/rcarmo/md4sat/internal/logging"
	"github.com/rcarmo/md4sat/internal/recovery"
	"github.com/rcarmo/md4sat/web"
)

type ctxKey int

const requestIDKey ctxKey = iota

// Handler serves the recovery API.
type Handler struct {
	cfg      *config.Config
	rec      *recovery.Recoverer
	log      *logging.Logger
	gatherer prometheus.Gatherer
	validate *validator.Validate
	slots    *semaphore.Weighted
}

// New returns a Handler running recoveries with rec. At most
// cfg.Recovery.Workers recoveries run at once; further requests wait.
func New(cfg *config.Config, rec *recovery.Recoverer, log *logging.Logger, gatherer prometheus.Gatherer) *Handler {
	workers := int64(cfg.Recovery.Workers)
	if workers < 1 {
		workers = 1
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		cfg:      cfg,
		rec:      rec,
		log:      log,
		gatherer: gatherer,
		validate: validator.New(),
		slots:    semaphore.NewWeighted(workers),
	}
}

// Routes returns the mux with every endpoint and the middleware chain applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/recover", h.Recover)
	mux.HandleFunc("GET /ws/recover", h.Stream)
	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if static, err := web.DistFS(); err == nil {
		mux.Handle("GET /", http.FileServerFS(static))
	} else {
		h.log.Warn("static assets unavailable: %v", err)
	}

	var next http.Handler = mux
	next = corsMiddleware(next, h.cfg.Security.AllowedOrigins)
	next = securityHeadersMiddleware(next)
	next = h.requestLoggingMiddleware(next)
	return next
}

// NewServer wraps h in an http.Server configured from cfg.
func NewServer(cfg *config.Config, h *Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(h.log.Slog().Handler(), slog.LevelError),
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; connect-src 'self' ws: wss:; frame-ancestors 'none'")

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !isOriginAllowed(origin, allowedOrigins, r.Host) {
				http.Error(w, "Origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isOriginAllowed accepts listed origins, loopback hosts, and, when no list is
// configured, the server's own host.
func isOriginAllowed(origin string, allowedOrigins []string, host string) bool {
	if origin == "" {
		return false
	}

	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	normalized := u.Host

	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}

	for _, allowed := range allowedOrigins {
		candidate := strings.TrimSpace(allowed)
		if candidate == origin || candidate == normalized {
			return true
		}
	}

	if len(allowedOrigins) == 0 {
		return normalized == host
	}

	return false
}

// statusRecorder remembers the status written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Hijack hands the connection over for websocket upgrades.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not implement http.Hijacker")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (h *Handler) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
		h.log.Info("%s %s %s %d %s id=%s", r.RemoteAddr, r.Method, r.URL.Path, rec.status, time.Since(start), id)
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
