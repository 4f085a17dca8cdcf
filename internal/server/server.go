package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/a-essam23/go-collab/internal/conflict"
	"github.com/a-essam23/go-collab/internal/persist"
	"github.com/a-essam23/go-collab/internal/relay"
	"github.com/a-essam23/go-collab/internal/router"
	"github.com/a-essam23/go-collab/internal/server/middleware"
	"github.com/a-essam23/go-collab/pkg/config"
	"github.com/a-essam23/go-collab/pkg/identity"
	"github.com/a-essam23/go-collab/pkg/state"
	"github.com/a-essam23/go-collab/pkg/state/statemanager"
	"github.com/a-essam23/go-collab/pkg/transport"
	"github.com/coder/websocket"
)

type App struct {
	logger      *slog.Logger
	registry    state.Registry
	eventRouter *router.Router
	debouncer   *persist.Debouncer
	redis       *persist.RedisSaver
	wg          sync.WaitGroup
	http        *http.Server
	config      *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootContx context.Context, cfg *config.Config) *App {
	registry := statemanager.NewInMemoryRegistry(logger)
	eventRelay := relay.New(registry, relay.Config{CursorInterval: cfg.Relay.CursorInterval}, logger)
	resolver := identity.NewResolver(cfg.Server.Auth.JWTSecret, logger)
	access := identity.NewStaticAccess(accessTable(cfg.Rooms))

	var redisSaver *persist.RedisSaver
	var backend persist.Saver
	if cfg.Persist.RedisAddr != "" {
		redisSaver = persist.NewRedisSaver(cfg.Persist.RedisAddr, cfg.Persist.Channel, logger)
		backend = redisSaver
	} else {
		backend = persist.NewLogSaver(logger)
	}
	debouncer := persist.NewDebouncer(backend, cfg.Persist.Debounce, logger)

	eventRouter := router.New(
		logger,
		registry,
		access,
		eventRelay,
		conflict.NewResolver(logger),
		debouncer,
		cfg.Presence.GraceWindow,
	)

	app := &App{
		logger:      logger,
		registry:    registry,
		eventRouter: eventRouter,
		debouncer:   debouncer,
		redis:       redisSaver,
		config:      cfg,
		ctx:         rootContx,
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	// Create a cycler function that closes over the registry and logger.
	connCycler := func(identityID string) {
		oldest, found := registry.FindOldestIdentityConnection(identityID)
		if found {
			logger.Info("Cycling connection: closing oldest",
				slog.String("identity", identityID),
				slog.String("connID", oldest.ID.String()),
			)
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, resolver),
			middleware.NewConnectionLimiter(
				logger,
				registry.IdentityConnectionCount,
				connCycler,
				app.config.Server.ConnectionLimit,
			),
		),
	)

	app.http = &http.Server{Addr: app.config.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

// accessTable converts the configured room table into the access service's
// shape, resolving role names as it goes.
func accessTable(rooms map[string]config.RoomConfig) map[string]identity.RoomAccess {
	table := make(map[string]identity.RoomAccess, len(rooms))
	for key, rc := range rooms {
		members := make(map[string]identity.Role, len(rc.Members))
		for userID, roleName := range rc.Members {
			members[userID] = identity.ParseRole(roleName)
		}
		table[key] = identity.RoomAccess{Public: rc.Public, Members: members}
	}
	return table
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(slog.String("remoteAddr", reqMeta.IP))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)

	// An unauthenticated connection collaborates as a guest rather than being
	// turned away at the door.
	var id identity.Identity
	if reqMeta.Identity != nil {
		id = *reqMeta.Identity
	} else {
		id = identity.GuestIdentity(conn.ID())
	}

	if _, err := a.registry.RegisterConnection(conn, id, reqMeta.IP); err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}

	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(a.eventRouter.HandleClose)

	connLogger.Info("Connection fully established",
		slog.String("identity", id.ID),
		slog.Bool("guest", id.IsGuest),
	)
	conn.Run()
	<-conn.Done()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, t := range a.registry.AllTransports() {
		t.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()

	a.eventRouter.Close()
	a.debouncer.Flush()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("Failed to close persistence client", slog.Any("error", err))
		}
	}

	a.logger.Info("Server shut down gracefully.")
	return nil
}
