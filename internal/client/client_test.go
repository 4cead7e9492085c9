package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuwenbin0122/roomchat/internal/api"
	"github.com/wuwenbin0122/roomchat/internal/chat"
	"github.com/wuwenbin0122/roomchat/internal/client"
	"github.com/wuwenbin0122/roomchat/internal/db"
	"github.com/wuwenbin0122/roomchat/internal/gateway"
	"github.com/wuwenbin0122/roomchat/internal/models"
	"github.com/wuwenbin0122/roomchat/internal/utils"
)

const testSession = "client-test"

func newUpstream(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func replyWith(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}
}

// newServer wires the real handler, an in-memory store and a gateway that
// points at upstreamURL.
func newServer(t *testing.T, upstreamURL string) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("TEST_COMPLETION_KEY", "secret")

	forwarder := gateway.New(utils.CompletionConfig{
		BaseURL:       upstreamURL,
		Model:         "test-model",
		CredentialEnv: "TEST_COMPLETION_KEY",
		Timeout:       5 * time.Second,
	}, nil)

	router := gin.New()
	api.NewHandler(db.NewMemory(), forwarder, api.Options{SessionID: testSession}, nil).RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func newViewer(baseURL string) *chat.Orchestrator {
	remote := client.New(baseURL, 5*time.Second)
	return chat.NewOrchestrator(remote, remote, nil, chat.Options{SessionID: testSession})
}

func TestEndToEndSubmit(t *testing.T) {
	upstream := newUpstream(t, replyWith("Hello!"))
	server := newServer(t, upstream.URL)

	viewer := newViewer(server.URL)
	require.NoError(t, viewer.Submit(context.Background(), "Hi"))

	turns := viewer.Transcript().Snapshot()
	require.Len(t, turns, 2)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, models.StateConfirmed, turns[0].State)
	assert.Equal(t, "Hello!", turns[1].Content)
	assert.Equal(t, models.StateConfirmed, turns[1].State)

	// a second viewer sees the same session on hydration
	other := newViewer(server.URL)
	require.NoError(t, other.Hydrate(context.Background()))
	assert.Equal(t, turns, other.Transcript().Snapshot())
}

func TestEndToEndUpstreamFailure(t *testing.T) {
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	})
	server := newServer(t, upstream.URL)

	viewer := newViewer(server.URL)
	require.NoError(t, viewer.Submit(context.Background(), "Hi"))

	turns := viewer.Transcript().Snapshot()
	require.Len(t, turns, 2)
	assert.Equal(t, models.StateConfirmed, turns[0].State)
	assert.Equal(t, "Error: Nvidia API error: 502 Bad Gateway", turns[1].Content)
	assert.True(t, turns[1].Failed)

	persisted, err := client.New(server.URL, time.Second).ListTurns(context.Background(), testSession)
	require.NoError(t, err)
	assert.Len(t, persisted, 1, "failure text is never persisted")
}

func TestEndToEndUnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	viewer := newViewer(baseURL)
	require.NoError(t, viewer.Submit(context.Background(), "Hi"))

	turns := viewer.Transcript().Snapshot()
	require.Len(t, turns, 2)
	assert.Equal(t, models.StateLocal, turns[0].State)
	assert.Contains(t, turns[1].Content, "Could not reach the chat service")
}

func TestRemoteErrorEnvelope(t *testing.T) {
	server := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"NVIDIA_API_KEY is not configured on the server"}`))
	})

	_, err := client.New(server.URL, time.Second).Complete(context.Background(), []models.Message{{Role: models.RoleUser, Content: "Hi"}})
	require.Error(t, err)

	var remote *client.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusInternalServerError, remote.Status)
	assert.Equal(t, "NVIDIA_API_KEY is not configured on the server", remote.Message)
}

func TestStoreErrorsWrapPersistence(t *testing.T) {
	server := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	_, err := client.New(server.URL, time.Second).Append(context.Background(), testSession, models.RoleUser, "Hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, db.ErrPersistence)
}

func TestRemoteErrorSnippetKeepsRunesWhole(t *testing.T) {
	// 255 ASCII bytes then multi-byte runes: a byte cut at 256 would split one
	body := strings.Repeat("x", 255) + strings.Repeat("é", 50)
	server := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(body))
	})

	_, err := client.New(server.URL, time.Second).Complete(context.Background(), []models.Message{{Role: models.RoleUser, Content: "Hi"}})

	var remote *client.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.True(t, utf8.ValidString(remote.Message), "message must be valid UTF-8")
	assert.Equal(t, "server error (502): "+strings.Repeat("x", 255)+"é", remote.Message)
}
