package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/christopherjohns/wordbattle/internal/bus"
	"github.com/christopherjohns/wordbattle/internal/config"
	"github.com/christopherjohns/wordbattle/internal/game"
	"github.com/christopherjohns/wordbattle/internal/presence"
	"github.com/christopherjohns/wordbattle/internal/queue"
	"github.com/christopherjohns/wordbattle/internal/recorder"
	"github.com/christopherjohns/wordbattle/internal/server"
	"github.com/christopherjohns/wordbattle/internal/wordle"
	"github.com/christopherjohns/wordbattle/internal/ws"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseDSN == "" {
		log.Fatal("DATABASE_DSN is required")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("redis at %s: %v", cfg.RedisAddr, err)
	}
	log.Printf("connected to redis at %s", cfg.RedisAddr)

	words, err := wordle.LoadDictionary(cfg.WordsFile)
	if err != nil {
		log.Fatalf("dictionary: %v", err)
	}
	log.Printf("dictionary loaded, %d words", words.Len())

	store, err := recorder.OpenGormStore(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	events := bus.NewBus(rdb)
	reg := game.NewRegistry(rdb)
	session := game.NewSession(reg, events, words, cfg.MatchDuration)
	tracker := presence.NewTracker(rdb, cfg.PresenceTTL)
	q := queue.New(rdb)

	conns := ws.NewConnManager(ws.WithIdleTimeout(cfg.PresenceTTL))
	hub := ws.NewHub(conns)
	wsh := ws.NewHandler(hub, session, tracker)
	router := ws.NewRouter(hub, events)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := router.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("event router stopped: %v", err)
		}
	}()

	srv := server.New(cfg.ListenAddr, q, session, store, wsh, events)
	go func() {
		if err := srv.Run(); err != nil {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	conns.Shutdown()
}
