// Command chat is a terminal viewer for the shared room. It talks to a
// running server through the proxy and turn routes, so it needs no upstream
// credential of its own.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/roomchat/internal/chat"
	"github.com/wuwenbin0122/roomchat/internal/client"
	"github.com/wuwenbin0122/roomchat/internal/models"
	"github.com/wuwenbin0122/roomchat/internal/utils"
)

const historyFileName = ".roomchat_history"

func main() {
	_ = godotenv.Load()

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	// the REPL owns stdout; keep logs quiet unless asked for
	logCfg := cfg.Logging
	if os.Getenv("LOG_LEVEL") == "" {
		logCfg.Level = "error"
	}
	logger, err := utils.NewLogger(logCfg)
	if err != nil {
		log.Fatalf("logger: failed to initialise: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	remote := client.New(cfg.Client.BaseURL, cfg.Client.Timeout)
	transcript := chat.NewTranscript()
	orchestrator := chat.NewOrchestrator(remote, remote, transcript, chat.Options{
		SessionID:     cfg.SessionID,
		SystemPrompt:  cfg.Chat.SystemPrompt,
		HistoryWindow: cfg.Chat.HistoryWindow,
		Logger:        logger,
	})

	unsubscribe := transcript.Subscribe(func(change chat.Change) {
		render(os.Stdout, transcript, change)
	})
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("connected to %s (session %s). /reload refreshes, /quit exits.\n", cfg.Client.BaseURL, cfg.SessionID)
	if err := orchestrator.Hydrate(ctx); err != nil {
		fmt.Printf("could not load earlier messages: %v\n", err)
	}

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	historyPath := historyFile()
	loadHistory(line, historyPath)
	defer func() {
		saveHistory(line, historyPath, logger)
		line.Close()
	}()

	for {
		input, err := line.Prompt("you> ")
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				logger.Error("prompt_failed", zap.Error(err))
			}
			fmt.Println()
			return
		}

		command := strings.TrimSpace(input)
		if command == "" {
			continue
		}
		line.AppendHistory(input)

		switch command {
		case "/quit", "/exit":
			return
		case "/reload":
			if err := orchestrator.Hydrate(ctx); err != nil {
				fmt.Printf("reload failed: %v\n", err)
			}
			continue
		}

		if err := orchestrator.Submit(ctx, input); err != nil {
			fmt.Printf("not sent: %v\n", err)
		}
	}
}

func render(w io.Writer, transcript *chat.Transcript, change chat.Change) {
	switch change.Kind {
	case chat.ChangeReset:
		turns := transcript.Snapshot()
		fmt.Fprintf(w, "--- %d earlier messages ---\n", len(turns))
		for _, turn := range turns {
			fmt.Fprintln(w, formatTurn(turn))
		}
	case chat.ChangeAppend:
		// the user's own line is already on screen from the prompt
		if change.Turn.Role == models.RoleUser {
			return
		}
		fmt.Fprintln(w, formatTurn(change.Turn))
	case chat.ChangeSettle:
		if !change.Turn.Persisted() {
			fmt.Fprintln(w, "  (message not saved; it will only appear here)")
		}
	}
}

func formatTurn(turn models.Turn) string {
	label := "assistant"
	if turn.Role == models.RoleUser {
		label = "user"
	}
	suffix := ""
	if turn.State == models.StateLocal {
		suffix = " (local)"
	}
	return fmt.Sprintf("%s%s: %s", label, suffix, turn.Content)
}

func historyFile() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, historyFileName)
}

func loadHistory(line *liner.State, path string) {
	if f, err := os.Open(path); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
}

func saveHistory(line *liner.State, path string, logger *zap.Logger) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		logger.Warn("history_save_failed", zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := line.WriteHistory(f); err != nil {
		logger.Warn("history_save_failed", zap.Error(err))
	}
}
