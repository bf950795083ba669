package httpapi

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	internalhttputil "github.com/lanternhq/lantern-api/internal/httputil"
	"github.com/lanternhq/lantern-api/internal/middleware"
)

// AuditEntry records one completed API request.
type AuditEntry struct {
	Time       time.Time `json:"time"`
	User       string    `json:"user"`
	Role       string    `json:"role"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Status     int       `json:"status"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// AuditSink receives entries for durable persistence.
type AuditSink interface {
	Write(entry AuditEntry) error
}

// AuditLog keeps the most recent entries in a ring buffer and forwards each
// one to an optional sink. The ops listener serves the buffer read-only.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	max     int
	sink    AuditSink
}

// NewAuditLog creates an audit log retaining up to max entries.
func NewAuditLog(max int, sink AuditSink) *AuditLog {
	if max <= 0 {
		max = 200
	}
	return &AuditLog{max: max, sink: sink}
}

// Add appends an entry, evicting the oldest when the buffer is full.
func (l *AuditLog) Add(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		// Best-effort persistence; failures must not affect request flow.
		_ = l.sink.Write(entry)
	}
}

// List returns a copy of the buffered entries, oldest first.
func (l *AuditLog) List() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ListLimit returns up to limit of the most recent entries.
func (l *AuditLog) ListLimit(limit int) []AuditEntry {
	if limit <= 0 || limit > l.max {
		limit = l.max
	}
	all := l.List()
	if len(all) <= limit {
		return all
	}
	return all[len(all)-limit:]
}

// Middleware records every request that passes through the router.
func (l *AuditLog) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &auditRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		l.Add(AuditEntry{
			Time:       time.Now().UTC(),
			User:       middleware.GetUserID(r.Context()),
			Role:       middleware.GetUserRole(r.Context()),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: internalhttputil.ClientIP(r),
			UserAgent:  r.UserAgent(),
		})
	})
}

type auditRecorder struct {
	http.ResponseWriter
	status int
}

func (r *auditRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// ZapAuditSink writes entries to a structured log stream.
type ZapAuditSink struct {
	log *zap.Logger
}

// NewZapAuditSink wraps a zap logger as an audit sink.
func NewZapAuditSink(log *zap.Logger) *ZapAuditSink {
	return &ZapAuditSink{log: log}
}

func (s *ZapAuditSink) Write(entry AuditEntry) error {
	if s == nil || s.log == nil {
		return nil
	}
	s.log.Info("audit",
		zap.Time("time", entry.Time),
		zap.String("user", entry.User),
		zap.String("role", entry.Role),
		zap.String("method", entry.Method),
		zap.String("path", entry.Path),
		zap.Int("status", entry.Status),
		zap.String("remote_addr", entry.RemoteAddr),
		zap.String("user_agent", entry.UserAgent),
	)
	return nil
}

// NewFileAuditSink builds a zap-backed sink appending JSON lines to path.
// An empty path disables the sink.
func NewFileAuditSink(path string) (*ZapAuditSink, error) {
	if path == "" {
		return nil, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return NewZapAuditSink(log), nil
}
