package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"dogfight/internal/broadcast"
	"dogfight/internal/config"
	"dogfight/internal/db"
	"dogfight/internal/events"
	"dogfight/internal/gateway"
	"dogfight/internal/metrics"
	"dogfight/internal/replays"
	"dogfight/internal/rooms"
	"dogfight/internal/wshub"
)

const shutdownReason = "server shutting down"

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rooms", s.handleCreateRoom)
	mux.HandleFunc("GET /rooms", s.handleListRooms)
	mux.HandleFunc("GET /rooms/{id}", s.handleGetRoom)
	mux.HandleFunc("POST /rooms/{id}/join", s.handleJoinRoom)
	mux.HandleFunc("POST /rooms/{id}/leave", s.handleLeaveRoom)
	mux.HandleFunc("GET /replays", s.handleListReplays)
	mux.HandleFunc("GET /replays/{sessionId}", s.handleGetReplay)
	mux.HandleFunc("GET /matches", s.handleRecentMatches)
	mux.HandleFunc("GET /matches/{sessionId}", s.handleGetMatch)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.Gateway != nil {
		mux.Handle("GET /ws", s.Gateway)
	}
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}
	return mux
}

func Run() error {
	appCfg, err := config.Load()
	if err != nil {
		return err
	}
	schema, err := appCfg.Schema()
	if err != nil {
		return err
	}

	m := metrics.New()
	store := replays.NewMemoryStore()
	bus := events.NewBus()
	registry := rooms.NewRegistry(rooms.RegistryConfig{
		Rooms: rooms.Options{
			Capacity: appCfg.RoomCapacity,
			TickRate: appCfg.TickRate,
			MaxTicks: appCfg.MaxTicks(),
			Schema:   schema,
			Replays:  store,
			Metrics:  m,
		},
		WaitingTTL: appCfg.WaitingTTL,
		Bus:        bus,
	})
	hub := wshub.NewHub()
	gw := gateway.New(gateway.Config{
		HandshakeTimeout: appCfg.HandshakeTimeout,
		PingInterval:     appCfg.PingInterval,
		SendBuffer:       appCfg.SendBuffer,
		TickRate:         appCfg.TickRate,
		Schema:           schema,
		OriginPatterns:   appCfg.AllowedOrigins,
	}, registry, store, hub, m)

	srv := &Server{
		Registry: registry,
		Replays:  store,
		Gateway:  gw,
		Metrics:  m,
		Feed:     broadcast.NewBroadcaster(),
	}

	// Optional database connection
	var archive matchArchive
	if appCfg.DatabaseURL != "" {
		database, err := db.Connect(appCfg.DatabaseURL)
		if err != nil {
			log.Printf("[DB] Failed to connect: %v (running without database)\n", err)
		} else {
			if err := database.Migrate(); err != nil {
				log.Printf("[DB] Migration failed: %v\n", err)
			}
			defer database.Close()
			srv.DB = database
			archive = database
			log.Println("[DB] Database connected and migrations applied")
		}
	} else {
		log.Println("[DB] DATABASE_URL not set, running without database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:              "0.0.0.0:" + appCfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// the archive outlives the rooms so matches ended by shutdown are written
	archiveCtx, stopArchive := context.WithCancel(context.Background())
	defer stopArchive()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Printf("Server listening on http://localhost:%s\n", appCfg.Port)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		registry.Run(gctx, appCfg.SweepInterval)
		return nil
	})
	g.Go(func() error {
		matchBatchWriter(archiveCtx, archive, bus.MatchEnded, srv.Feed)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("[Server] shutting down")
		registry.Shutdown(shutdownReason)
		stopArchive()
		hub.CloseAll(nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
