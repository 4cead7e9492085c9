package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"github.com/wuwenbin0122/roomchat/internal/db"
	"github.com/wuwenbin0122/roomchat/internal/utils"
)

func main() {
	_ = godotenv.Load()

	cfg, err := utils.LoadConfig()
	if err != nil {
		panic(err)
	}

	session := flag.String("session", cfg.SessionID, "session id to dump")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := utils.MustNewLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	store, err := db.Open(ctx, cfg.Store, logger)
	if err != nil {
		panic(err)
	}
	defer store.Close(context.Background())

	turns, err := store.ListTurns(ctx, *session)
	if err != nil {
		panic(err)
	}

	fmt.Printf("session %s on %s: %d turns\n", *session, cfg.Store.Backend, len(turns))
	for _, turn := range turns {
		created := "-"
		if turn.CreatedAt != nil {
			created = turn.CreatedAt.Format(time.RFC3339)
		}
		fmt.Printf("- [%s] %s %-9s %s\n", created, turn.ID, turn.Role, turn.Content)
	}
}
