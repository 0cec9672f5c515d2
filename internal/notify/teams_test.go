package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTeams_NoWebhook(t *testing.T) {
	n := NewTeams(Config{}, zap.NewNop())
	res := n.Send(t.Context(), "title", "text")

	assert.False(t, res.Sent)
	assert.Equal(t, "no webhook", res.Reason)
	assert.Empty(t, res.Error)
}

func TestTeams_PostsMessageCard(t *testing.T) {
	var got map[string]any
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("1"))
	}))
	defer srv.Close()

	n := NewTeams(Config{URL: srv.URL}, zap.NewNop())
	res := n.Send(t.Context(), "Broker IP updated", "10.0.0.4 -> 10.0.0.5")

	assert.True(t, res.Sent)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "MessageCard", got["@type"])
	assert.Equal(t, "https://schema.org/extensions", got["@context"])
	assert.Equal(t, "Broker IP updated", got["summary"])
	assert.Equal(t, "Broker IP updated", got["title"])
	assert.Equal(t, "10.0.0.4 -> 10.0.0.5", got["text"])
	assert.Equal(t, "0076D7", got["themeColor"])
}

func TestTeams_CustomThemeColor(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	n := NewTeams(Config{URL: srv.URL, ThemeColor: "FF0000"}, zap.NewNop())
	require.True(t, n.Send(t.Context(), "t", "x").Sent)
	assert.Equal(t, "FF0000", got["themeColor"])
}

func TestTeams_Non2xxIsReportedNotReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Invalid webhook request - Empty Payload"))
	}))
	defer srv.Close()

	res := NewTeams(Config{URL: srv.URL}, zap.NewNop()).Send(t.Context(), "t", "x")

	assert.False(t, res.Sent)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Contains(t, res.Error, "unexpected status 400")
	assert.Contains(t, res.Error, "Empty Payload")
}

func TestTeams_NetworkErrorIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := NewTeams(Config{URL: url}, zap.NewNop()).Send(t.Context(), "t", "x")
	assert.False(t, res.Sent)
	assert.Zero(t, res.Status)
	assert.Contains(t, res.Error, "request failed")
}

func TestTeams_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	res := NewTeams(Config{URL: srv.URL, Timeout: 50 * time.Millisecond}, zap.NewNop()).Send(t.Context(), "t", "x")
	assert.False(t, res.Sent)
	assert.NotEmpty(t, res.Error)
}
