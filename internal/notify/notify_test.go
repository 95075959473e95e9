package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/eqho10/eqho-aios/internal/config"
	"go.uber.org/zap"
)

type captureSink struct {
	name  string
	err   error
	delay time.Duration

	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Name() string { return c.name }

func (c *captureSink) Deliver(ctx context.Context, ev Event) error {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return c.err
}

func (c *captureSink) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestDispatcherFansOut(t *testing.T) {
	a := &captureSink{name: "a"}
	b := &captureSink{name: "b", err: errors.New("boom")}
	d := NewDispatcher(time.Second, zap.NewNop(), a, b)

	err := d.Broadcast(context.Background(), Event{Event: AgentCompleted, StoryID: "EQHO-001", Agent: "qa"})
	if err == nil || !strings.Contains(err.Error(), "b: boom") {
		t.Fatalf("err = %v, want b: boom", err)
	}
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatalf("deliveries = %d/%d, want 1/1", len(a.Events()), len(b.Events()))
	}
	if a.Events()[0].Timestamp.IsZero() {
		t.Error("timestamp not stamped")
	}
	if got := d.Sinks(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Sinks() = %v", got)
	}
}

func TestDispatcherTimeoutIsSwallowed(t *testing.T) {
	slow := &captureSink{name: "slow", delay: time.Minute}
	d := NewDispatcher(50*time.Millisecond, zap.NewNop(), slow)

	start := time.Now()
	d.Notify(context.Background(), Event{Event: PipelineCompleted})
	if time.Since(start) > 5*time.Second {
		t.Error("Notify waited past the sink timeout")
	}
}

func TestEventText(t *testing.T) {
	long := strings.Repeat("x", 600)
	got := Event{Event: AgentCompleted, StoryID: "EQHO-002", Agent: "developer", Tokens: 42, Result: long}.Text()
	if !strings.HasPrefix(got, "EqhoAIOS: @developer finished EQHO-002 (42 tokens)") {
		t.Errorf("agent text = %q", got)
	}
	if !strings.HasSuffix(got, "...") || len(got) > 600 {
		t.Errorf("result not truncated: %d chars", len(got))
	}

	got = Event{Event: PipelineCompleted, StoryID: "EQHO-002", Phase: "full", Tokens: 900}.Text()
	if !strings.Contains(got, "pipeline failed") || !strings.Contains(got, "Tokens: 900") {
		t.Errorf("pipeline text = %q", got)
	}

	if got := (Event{Event: Message, Result: "hello"}).Text(); got != "hello" {
		t.Errorf("message text = %q", got)
	}
}

func TestWebhookSink(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer ts.Close()

	s, err := NewWebhookSink(ts.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	ev := Event{Event: AgentCompleted, StoryID: "EQHO-003", Agent: "qa", Tokens: 7, Success: true, Timestamp: time.Unix(0, 0).UTC()}
	if err := s.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	for k, want := range map[string]any{
		"event": "agent_completed", "storyId": "EQHO-003", "agent": "qa",
		"tokens": float64(7), "success": true, "source": "eqho-aios",
	} {
		if got[k] != want {
			t.Errorf("%s = %v, want %v", k, got[k], want)
		}
	}
}

func TestWebhookSinkRejectsErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no workflow", http.StatusNotFound)
	}))
	defer ts.Close()

	s, _ := NewWebhookSink(ts.URL, nil)
	err := s.Deliver(context.Background(), Event{Event: Message})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want 404", err)
	}
}

func TestTelegramSink(t *testing.T) {
	var form map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/bottok/getMe":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"eqho","username":"eqho_bot"}}`))
		case "/bottok/sendMessage":
			_ = r.ParseForm()
			form = map[string]string{
				"chat_id":           r.PostForm.Get("chat_id"),
				"text":              r.PostForm.Get("text"),
				"message_thread_id": r.PostForm.Get("message_thread_id"),
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100,"type":"supergroup"}}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer ts.Close()

	s, err := NewTelegramSink(TelegramConfig{
		Token:    "tok",
		ChatID:   "-100",
		ThreadID: 12,
		Endpoint: ts.URL + "/bot%s/%s",
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver(context.Background(), Event{Event: Message, Result: "deploy done"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if form["chat_id"] != "-100" || form["text"] != "deploy done" || form["message_thread_id"] != "12" {
		t.Errorf("form = %v", form)
	}
}

func TestSlackSink(t *testing.T) {
	var channel, text string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = r.ParseForm()
		channel, text = r.PostForm.Get("channel"), r.PostForm.Get("text")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000000.000100"}`))
	}))
	defer ts.Close()

	s, err := NewSlackSink("xoxb-test", "C1", ts.URL+"/", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver(context.Background(), Event{Event: Message, Result: "hi"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if channel != "C1" || text != "hi" {
		t.Errorf("channel/text = %q/%q", channel, text)
	}
}

func TestDiscordSink(t *testing.T) {
	var content, auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		var body struct {
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		content = body.Content
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m1","channel_id":"c1","content":"ok"}`))
	}))
	defer ts.Close()

	orig := discordgo.EndpointChannelMessages
	discordgo.EndpointChannelMessages = func(cID string) string { return ts.URL + "/channels/" + cID + "/messages" }
	t.Cleanup(func() { discordgo.EndpointChannelMessages = orig })

	s, err := NewDiscordSink("tok", "c1", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver(context.Background(), Event{Event: Message, Result: "hello"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if content != "hello" || auth != "Bot tok" {
		t.Errorf("content/auth = %q/%q", content, auth)
	}
}

func TestSinkConstructorsRequireSettings(t *testing.T) {
	if _, err := NewTelegramSink(TelegramConfig{Token: "t"}, zap.NewNop()); err == nil {
		t.Error("telegram without chat id accepted")
	}
	if _, err := NewSlackSink("", "C1", "", zap.NewNop()); err == nil {
		t.Error("slack without token accepted")
	}
	if _, err := NewDiscordSink("t", "", zap.NewNop()); err == nil {
		t.Error("discord without channel accepted")
	}
	if _, err := NewWebhookSink("", nil); err == nil {
		t.Error("webhook without url accepted")
	}
}

func TestFromConfigSkipsUnusableSinks(t *testing.T) {
	cfg := config.Default()
	cfg.Env = func(k string) string {
		if k == "SLACK_BOT_TOKEN" {
			return "xoxb"
		}
		return ""
	}
	cfg.Integrations.Telegram.Enabled = true // token missing
	cfg.Integrations.Telegram.ChatID = "1"
	cfg.Integrations.Slack.Enabled = true
	cfg.Integrations.Slack.Channel = "C1"
	cfg.Integrations.N8n.Enabled = true
	cfg.Integrations.N8n.WebhookURL = "http://localhost:5678/webhook/eqho"

	d := FromConfig(context.Background(), cfg, zap.NewNop())
	got := d.Sinks()
	if len(got) != 2 || got[0] != "slack" || got[1] != "webhook" {
		t.Errorf("Sinks() = %v, want [slack webhook]", got)
	}
}
