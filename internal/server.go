package internal

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"termpost/internal/storage"
)

// ServerOptions tune the HTTP/websocket backend. Zero values pick defaults.
type ServerOptions struct {
	UploadDir      string
	MaxFileSize    int64
	RateLimitRPS   float64
	RateLimitBurst int
	Logger         *zap.Logger
}

// Server hosts channels, posts, reactions, slash commands and uploads, and
// pushes channel events to websocket members.
type Server struct {
	store    *storage.Store
	hub      *Hub
	presence *PresenceTracker
	metrics  *Metrics
	limiter  *RateLimiter
	uploads  *FileUploadHandler
	statuses *statusBoard
	logger   *zap.Logger
	now      func() time.Time
}

func NewServer(store *storage.Store, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 10 * 1024 * 1024
	}
	if opts.UploadDir == "" {
		opts.UploadDir = "uploads"
	}
	s := &Server{
		store:    store,
		hub:      NewHub(),
		presence: NewPresenceTracker(),
		metrics:  NewMetrics(),
		limiter:  NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		statuses: newStatusBoard(),
		logger:   logger,
		now:      time.Now,
	}
	s.uploads = NewFileUploadHandler(s, opts.UploadDir, opts.MaxFileSize)
	return s
}

// Routes builds the server mux. wsPath is where websocket members join.
func (s *Server) Routes(wsPath string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, s.ServeWS)
	s.handle(mux, "/exists", s.HandleChannelExists)
	s.handle(mux, "/api/channels", s.HandleChannels)
	s.handle(mux, "/api/channels/{id}", s.HandleChannel)
	s.handle(mux, "/api/channels/{id}/stats", s.HandleChannelStats)
	s.handle(mux, "/api/channels/{id}/posts", s.HandleChannelPosts)
	s.handle(mux, "/api/posts", s.HandleCreatePost)
	s.handle(mux, "/api/commands/execute", s.HandleExecuteCommand)
	s.handle(mux, "/api/reactions", s.HandleReactions)
	s.handle(mux, "/api/groups", s.HandleGroups)
	s.handle(mux, "/api/upload", s.uploads.HandleUpload)
	s.handle(mux, "/api/files/{id}", s.uploads.HandleDownload)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

func (s *Server) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, s.metrics.Middleware(pattern, fn))
}

// Close disconnects every websocket member.
func (s *Server) Close() {
	s.hub.Close()
}
