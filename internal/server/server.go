package server

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"time"
)

type Server struct {
	httpServer *http.Server
	cfg        Config
	db         *sql.DB
	catalog    *catalog
	store      *objectStore
	limiter    *rateLimiter
	guard      *adminGuard
	metrics    *Metrics
	backup     remoteBackup
	reclaimer  *reclaimer
}

// New wires every component and builds the route table. The database
// must already be open and migrated; backup may be the disabled
// variant.
func New(cfg Config, db *sql.DB, dialect string, backup remoteBackup) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := newObjectStore(cfg.UploadDir, cfg.SlugLength)
	if err != nil {
		return nil, err
	}

	var guardStore stateStore
	if cfg.LockBackend == "db" {
		guardStore, err = newDBStateStore(db, dialect)
		if err != nil {
			return nil, err
		}
	} else {
		guardStore = newMemoryStateStore()
	}

	s := &Server{
		cfg:     cfg,
		db:      db,
		catalog: newCatalog(db, dialect),
		store:   store,
		limiter: newRateLimiter(cfg.RateLimit, cfg.RateWindow),
		guard:   newAdminGuard(guardStore, 3, cfg.LockStep),
		metrics: NewMetrics(),
		backup:  backup,
	}
	// While the remote mirror is active, expired objects wait for their
	// backup before reclamation touches them.
	s.reclaimer = newReclaimer(
		s.catalog, s.store, s.backup, s.metrics,
		cfg.CleanupInterval,
		time.Duration(cfg.RetentionHours)*time.Hour,
		backup.Available(),
	)

	mux := http.NewServeMux()

	limited := s.limiter.middleware

	mux.Handle("/upload", limited(s.handleUpload(false)))
	mux.Handle("/upload-permanent", limited(s.handleUpload(true)))
	mux.Handle("/list", limited(http.HandlerFunc(s.handleList)))
	mux.Handle("/metrics", limited(http.HandlerFunc(s.handleMetrics)))
	mux.Handle("/metrics/prometheus", limited(http.HandlerFunc(s.handlePrometheusMetrics)))
	mux.HandleFunc("/health", s.handleHealth)

	admin := http.NewServeMux()
	admin.HandleFunc("/admin/files", s.handleAdminFiles)
	admin.HandleFunc("/admin/files/", s.handleAdminDeleteFile)
	admin.HandleFunc("/admin/delete-all", s.handleAdminDeleteAll)
	admin.HandleFunc("/admin/purge", s.handleAdminPurge)
	admin.HandleFunc("/admin/summary", s.handleAdminSummary)
	mux.Handle("/admin/", limited(s.requireAdmin(admin)))

	// "/" doubles as the download route; the bare banner stays outside
	// the rate limit so probes cannot starve real clients of budget.
	downloads := limited(http.HandlerFunc(s.handleRoot))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			s.handleRoot(w, r)
			return
		}
		downloads.ServeHTTP(w, r)
	})

	// Wrap middleware: requestID -> logging -> security headers -> mux
	var handler http.Handler = mux
	handler = securityHeadersMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s, nil
}

// StartBackground launches the retention reclaimer and the backup
// sweeper. Both stop when ctx is cancelled.
func (s *Server) StartBackground(ctx context.Context) {
	if s.cfg.CleanupEnabled {
		go s.reclaimer.run(ctx)
	} else {
		Info("cleanup disabled", nil)
	}
	if s.cfg.BackupEnabled {
		go s.startBackupSweeper(ctx, s.cfg.BackupInterval)
	}
}

// Handler exposes the fully wired HTTP handler, mainly for tests that
// mount the server on an ephemeral listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
