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
	"github.com/christopherjohns/wordbattle/internal/recorder"
	"github.com/christopherjohns/wordbattle/internal/timer"
	"github.com/christopherjohns/wordbattle/internal/wordle"
)

// The gameworker runs the countdown sweep and consumes the control channel,
// persisting finished matches.
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

	store, err := recorder.OpenGormStore(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	events := bus.NewBus(rdb)
	reg := game.NewRegistry(rdb)
	session := game.NewSession(reg, events, words, cfg.MatchDuration)
	tracker := presence.NewTracker(rdb, cfg.PresenceTTL)
	rec := recorder.New(store, rdb, events, reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := events.Subscribe(ctx, bus.ChannelControl, rec.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("control subscriber stopped: %v", err)
		}
	}()

	engine := timer.New(session, tracker, events, cfg.DisconnectGrace)
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("timer: %v", err)
	}
	log.Print("gameworker stopped")
}
