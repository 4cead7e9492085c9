package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/roomchat/internal/chat"
	"github.com/wuwenbin0122/roomchat/internal/gateway"
	"github.com/wuwenbin0122/roomchat/internal/models"
)

var sessionUpgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type sessionClientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type sessionEvent struct {
	Type       string         `json:"type"`
	Turn       *models.Turn   `json:"turn,omitempty"`
	Turns      *[]models.Turn `json:"turns,omitempty"`
	Index      *int           `json:"index,omitempty"`
	PreviousID string         `json:"previousId,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// handleSession serves one viewer per connection. The viewer gets its own
// transcript and orchestrator; only changes to that transcript are sent, never
// turns written by other viewers.
func (h *Handler) handleSession(c *gin.Context) {
	conn, err := sessionUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("session_upgrade_failed", zap.Error(err))
		return
	}
	defer conn.Close()

	viewer := uuid.NewString()
	logger := h.logger.With(zap.String("viewer", viewer))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	defer wg.Wait()

	sendJSON := func(event sessionEvent) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(event); err != nil {
			logger.Debug("session_write_failed", zap.Error(err))
		}
	}

	transcript := chat.NewTranscript()
	orchestrator := chat.NewOrchestrator(h.store, h.completer(), transcript, chat.Options{
		SessionID:     h.opts.SessionID,
		SystemPrompt:  h.opts.SystemPrompt,
		HistoryWindow: h.opts.HistoryWindow,
		Logger:        logger,
	})

	unsubscribe := transcript.Subscribe(func(change chat.Change) {
		switch change.Kind {
		case chat.ChangeReset:
			// a snapshot always carries an array, empty for a new session
			turns := transcript.Snapshot()
			sendJSON(sessionEvent{Type: "snapshot", Turns: &turns})
		default:
			turn := change.Turn
			index := change.Index
			sendJSON(sessionEvent{Type: "turn", Turn: &turn, Index: &index, PreviousID: change.PreviousID})
		}
	})
	defer unsubscribe()

	run := func(op func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := op(ctx); err != nil {
				if errors.Is(err, chat.ErrBusy) || errors.Is(err, chat.ErrEmptyInput) {
					sendJSON(sessionEvent{Type: "rejected", Error: err.Error()})
					return
				}
				sendJSON(sessionEvent{Type: "error", Error: err.Error()})
				return
			}
			sendJSON(sessionEvent{Type: "settled"})
		}()
	}

	if err := orchestrator.Hydrate(ctx); err != nil {
		sendJSON(sessionEvent{Type: "error", Error: "failed to load conversation: " + err.Error()})
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("session_closed_unexpectedly", zap.Error(err))
			}
			cancel()
			return
		}

		var msg sessionClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			sendJSON(sessionEvent{Type: "error", Error: "invalid message: " + err.Error()})
			continue
		}

		switch strings.ToLower(strings.TrimSpace(msg.Type)) {
		case "submit":
			content := msg.Content
			// early answer while a pipeline is visibly running; Submit enforces the guard itself
			if orchestrator.Busy() {
				sendJSON(sessionEvent{Type: "rejected", Error: chat.ErrBusy.Error()})
				continue
			}
			run(func(ctx context.Context) error { return orchestrator.Submit(ctx, content) })
		case "hydrate":
			run(orchestrator.Hydrate)
		default:
			sendJSON(sessionEvent{Type: "error", Error: "unknown message type " + msg.Type})
		}
	}
}

func (h *Handler) completer() chat.Completer {
	return chat.CompleterFunc(func(ctx context.Context, messages []models.Message) (string, error) {
		raw, err := h.gateway.Forward(ctx, messages)
		if err != nil {
			return "", err
		}
		return gateway.ExtractContent(raw)
	})
}
