// Package server is a development realtime server speaking the same REST
// and socket protocol as production. It backs the CLI during local work and
// the end-to-end tests of the sync layer.
package server

import (
	"context"
	"net/http"
	"time"

	"go-chatsync/internal/auth"
	"go-chatsync/internal/middleware"
	"go-chatsync/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/olahol/melody"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type Options struct {
	DB              *gorm.DB
	Secret          []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Now             func() time.Time
	Logger          zerolog.Logger

	// Gatherer is exposed on /metrics when set.
	Gatherer prometheus.Gatherer

	// RateLimit enables per-address limits on the auth and API groups.
	RateLimit bool
}

type Server struct {
	opts     Options
	log      zerolog.Logger
	engine   *gin.Engine
	melody   *melody.Melody
	hub      *Hub
	auth     *auth.Service
	messages *MessageStore
	channels *ChannelStore
	audits   *AuditLog
	voice    *VoiceRooms
	cancel   context.CancelFunc
}

// Models lists the tables the server needs migrated.
func Models() []any {
	return []any{&auth.Account{}, &auth.RefreshToken{}, &StoredMessage{}, &StoredChannel{}, &AuditEntry{}}
}

// SeedAccount creates username if it does not exist yet.
func SeedAccount(username, password string) storage.Seed {
	return func(db *gorm.DB) error {
		var count int64
		if err := db.Model(&auth.Account{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		_, err := auth.NewService(db, auth.ServiceOptions{}).Register(username, password)
		return err
	}
}

func New(opts Options) (*Server, error) {
	if opts.DB == nil {
		return nil, errors.New("server: database is required")
	}
	if len(opts.Secret) == 0 {
		return nil, errors.New("server: signing secret is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := melody.New()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		opts:   opts,
		log:    opts.Logger,
		melody: m,
		hub:    NewHub(m, opts.Logger),
		auth: auth.NewService(opts.DB, auth.ServiceOptions{
			Secret:          opts.Secret,
			AccessTokenTTL:  opts.AccessTokenTTL,
			RefreshTokenTTL: opts.RefreshTokenTTL,
			Now:             opts.Now,
		}),
		messages: NewMessageStore(opts.DB, opts.Now),
		channels: NewChannelStore(opts.DB),
		audits:   NewAuditLog(opts.DB, opts.Now),
		voice:    NewVoiceRooms(),
		cancel:   cancel,
	}

	m.HandleConnect(s.onConnect)
	m.HandleDisconnect(s.onDisconnect)
	m.HandleMessage(s.onMessage)
	m.HandleError(func(sess *melody.Session, err error) {
		s.log.Debug().Err(err).Str("topic", sessionString(sess, keyTopic)).Msg("socket error")
	})

	s.engine = s.routes(ctx)
	return s, nil
}

func (s *Server) routes(ctx context.Context) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log))

	r.GET("/hc", func(c *gin.Context) { c.String(http.StatusOK, "Running") })
	if s.opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	authGroup := r.Group("/auth")
	if s.opts.RateLimit {
		authGroup.Use(middleware.RateLimitMiddleware(middleware.NewIPRateLimiter(ctx, middleware.StrictRateLimit)))
	}
	authGroup.POST("/register", s.register)
	authGroup.POST("/login", s.login)
	authGroup.POST("/refresh", s.refresh)
	authGroup.POST("/logout", s.logout)

	api := r.Group("/")
	if s.opts.RateLimit {
		api.Use(middleware.RateLimitMiddleware(middleware.NewIPRateLimiter(ctx, middleware.StandardRateLimit)))
	}
	api.Use(auth.BearerMiddleware(s.opts.Secret))
	api.GET("/channels/:id/messages", s.listMessages)
	api.POST("/channels/:id/messages", s.createMessage)
	api.PATCH("/channels/:id/messages/:mid", s.editMessage)
	api.DELETE("/channels/:id/messages/:mid", s.deleteMessage)
	api.PUT("/channels/:id/messages/:mid/reactions/:emoji", s.react(true))
	api.DELETE("/channels/:id/messages/:mid/reactions/:emoji", s.react(false))
	api.GET("/servers/:id", s.serverSnapshot)
	api.POST("/servers/:id/channels", s.createChannel)
	api.DELETE("/servers/:id/channels/:cid", s.deleteChannel)
	api.GET("/servers/:id/audit-log", s.auditLog)
	api.GET("/servers/:id/voice-presence", s.voicePresence)
	api.POST("/dev/events", s.publishEvent)

	ws := r.Group("/ws")
	ws.Use(auth.QueryTokenMiddleware(s.opts.Secret))
	ws.GET("/channels/:id", s.upgrade(func(c *gin.Context) string { return channelTopic(c.Param("id")) }))
	ws.GET("/servers/:id", s.upgrade(func(c *gin.Context) string { return serverTopic(c.Param("id")) }))
	ws.GET("/voice/:id", s.upgrade(func(c *gin.Context) string { return voiceTopic(c.Param("id")) }))
	ws.GET("/me", s.upgrade(func(c *gin.Context) string { return userTopic(c.GetString(auth.ContextUserID)) }))

	return r
}

// Handler serves REST and socket routes.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("dev server listening")

	select {
	case err := <-errc:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Close()
	return srv.Shutdown(shutdownCtx)
}

// Close drops every socket and stops background work.
func (s *Server) Close() {
	s.cancel()
	if err := s.melody.Close(); err != nil {
		s.log.Debug().Err(err).Msg("close sockets")
	}
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
