package chat

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/roomchat/internal/gateway"
	"github.com/wuwenbin0122/roomchat/internal/models"
	"github.com/wuwenbin0122/roomchat/internal/utils"
)

var (
	ErrEmptyInput = errors.New("chat: message is empty")
	ErrBusy       = errors.New("chat: a submission is already in flight")
)

const connectivityFailureMessage = "Error: Could not reach the chat service. " +
	"Check your network connection, and that the gateway allows cross-origin requests (CORS)."

// Store is the slice of the persistence layer the orchestrator needs.
type Store interface {
	Append(ctx context.Context, sessionID string, role models.Role, content string) (models.Turn, error)
	ListTurns(ctx context.Context, sessionID string) ([]models.Turn, error)
}

// Completer turns a prompt into assistant text.
type Completer interface {
	Complete(ctx context.Context, messages []models.Message) (string, error)
}

type CompleterFunc func(ctx context.Context, messages []models.Message) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, messages []models.Message) (string, error) {
	return f(ctx, messages)
}

type Options struct {
	SessionID     string
	SystemPrompt  string
	HistoryWindow int
	Logger        *zap.Logger
}

// Orchestrator runs one viewer's submissions against the shared session.
// At most one pipeline runs at a time; a concurrent attempt is rejected with
// ErrBusy rather than queued.
//
// The prompt is built from the transcript, which already holds the new
// user turn. That is only equivalent to tracking history separately because
// of single-flight; relaxing it would need prompt construction revisited.
type Orchestrator struct {
	sessionID  string
	preamble   string
	window     int
	store      Store
	completer  Completer
	transcript *Transcript
	logger     *zap.Logger
	busy       atomic.Bool
	newID      func() string
}

func NewOrchestrator(store Store, completer Completer, transcript *Transcript, opts Options) *Orchestrator {
	if transcript == nil {
		transcript = NewTranscript()
	}

	logger := utils.OrNop(opts.Logger).Named("orchestrator").With(zap.String("session", opts.SessionID))

	return &Orchestrator{
		sessionID:  opts.SessionID,
		preamble:   opts.SystemPrompt,
		window:     opts.HistoryWindow,
		store:      store,
		completer:  completer,
		transcript: transcript,
		logger:     logger,
		newID:      func() string { return "local-" + uuid.NewString() },
	}
}

func (o *Orchestrator) Transcript() *Transcript {
	return o.transcript
}

// Busy reports whether a submission or hydration is in flight.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// Hydrate replaces the transcript with the session as persisted. It shares
// the single-flight guard with Submit.
func (o *Orchestrator) Hydrate(ctx context.Context) error {
	if !o.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer o.busy.Store(false)

	turns, err := o.store.ListTurns(ctx, o.sessionID)
	if err != nil {
		o.logger.Error("hydrate_failed", zap.Error(err))
		return err
	}

	o.transcript.Reset(turns)
	o.logger.Info("hydrated", zap.Int("turns", len(turns)))
	return nil
}

// Submit runs the full pipeline for one user message. Only validation
// failures are returned; persistence and completion failures end up as log
// lines or as an assistant turn in the transcript.
func (o *Orchestrator) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	content := text
	if !o.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer o.busy.Store(false)

	pending := models.Turn{
		ID:        o.newID(),
		SessionID: o.sessionID,
		Role:      models.RoleUser,
		Content:   content,
		State:     models.StatePending,
	}
	o.transcript.Append(pending)

	if saved, err := o.store.Append(ctx, o.sessionID, models.RoleUser, content); err != nil {
		o.logger.Warn("persist_user_turn_failed", zap.String("turn", pending.ID), zap.Error(err))
		o.transcript.MarkLocal(pending.ID)
	} else {
		o.transcript.Confirm(pending.ID, saved)
	}

	prompt := BuildPrompt(o.preamble, o.transcript.Snapshot(), o.window)

	reply, err := o.completer.Complete(ctx, prompt)
	if err != nil {
		o.logger.Warn("completion_failed", zap.Error(err))
		o.transcript.Append(models.Turn{
			ID:        o.newID(),
			SessionID: o.sessionID,
			Role:      models.RoleAssistant,
			Content:   DescribeFailure(err),
			State:     models.StateLocal,
			Failed:    true,
		})
		return nil
	}

	saved, err := o.store.Append(ctx, o.sessionID, models.RoleAssistant, reply)
	if err != nil {
		o.logger.Warn("persist_assistant_turn_failed", zap.Error(err))
		o.transcript.Append(models.Turn{
			ID:        o.newID(),
			SessionID: o.sessionID,
			Role:      models.RoleAssistant,
			Content:   reply,
			State:     models.StateLocal,
		})
		return nil
	}

	if !o.transcript.Append(saved) {
		// already on screen through a concurrent re-hydration
		o.logger.Debug("assistant_turn_already_displayed", zap.String("turn", saved.ID))
	}
	return nil
}

// DescribeFailure renders a completion failure as assistant-visible text.
func DescribeFailure(err error) string {
	var netErr *gateway.NetworkError
	if errors.As(err, &netErr) && gateway.IsConnectivityFailure(netErr.Err) {
		return connectivityFailureMessage
	}
	return "Error: " + err.Error()
}
