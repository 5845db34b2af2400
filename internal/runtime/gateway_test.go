package runtime

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tjfontaine/interactions-gateway/internal/config"
	"github.com/tjfontaine/interactions-gateway/internal/discord"
	"github.com/tjfontaine/interactions-gateway/internal/signature"
	"github.com/tjfontaine/interactions-gateway/internal/storage"
)

const catalog = `
ping:
  description: Replies with pong
  content: pong!
`

// fakeDiscord stands in for the Discord REST API. PATCH requests block until
// release is closed so tests can observe that acknowledgements do not wait
// for the follow-up.
type fakeDiscord struct {
	*httptest.Server

	release   chan struct{}
	patched   chan string
	patches   atomic.Int32
	registers atomic.Int32

	mu     sync.Mutex
	bodies []discord.Message
}

func newFakeDiscord(t *testing.T) *fakeDiscord {
	t.Helper()
	f := &fakeDiscord{
		release: make(chan struct{}),
		patched: make(chan string, 16),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPatch && strings.HasSuffix(r.URL.Path, "/messages/@original"):
			var msg discord.Message
			json.NewDecoder(r.Body).Decode(&msg)
			f.mu.Lock()
			f.bodies = append(f.bodies, msg)
			f.mu.Unlock()
			f.patches.Add(1)
			f.patched <- r.URL.Path
			<-f.release
			w.Write([]byte(`{"id":"m1"}`))
		case r.Method == http.MethodPut && r.URL.Path == "/applications/app-1/commands":
			f.registers.Add(1)
			w.Write([]byte(`[{"id":"c1","name":"ping"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(func() {
		select {
		case <-f.release:
		default:
			close(f.release)
		}
		f.Close()
	})
	return f
}

type harness struct {
	gw      *Gateway
	priv    ed25519.PrivateKey
	discord *fakeDiscord
	base    string
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *harness {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	catalogPath := filepath.Join(dir, "Commands.yml")
	if err := os.WriteFile(catalogPath, []byte(catalog), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	cfg.Discord.PublicKey = hex.EncodeToString(pub)
	cfg.Discord.RegisterCommands = false
	cfg.Commands.Path = catalogPath
	cfg.Commands.Watch = false
	cfg.Workers.Count = 2
	if mutate != nil {
		mutate(cfg)
	}

	fd := newFakeDiscord(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	gw, err := New(
		WithConfig(cfg),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithDiscordClient(discord.NewClient("bot-token", discord.WithBaseURL(fd.URL))),
		WithListener(ln),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gw.Shutdown(ctx)
	})

	return &harness{gw: gw, priv: priv, discord: fd, base: "http://" + gw.Addr()}
}

func (h *harness) post(t *testing.T, body string, signed bool) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.base+"/interactions", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if signed {
		ts := "1700000000"
		req.Header.Set(signature.HeaderSignature, signature.Sign(h.priv, []byte(body), ts))
		req.Header.Set(signature.HeaderTimestamp, ts)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /interactions: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, strings.TrimSpace(string(b))
}

const pingCommand = `{"id":"100","application_id":"app-1","type":2,"token":"tok-100","data":{"id":"1","name":"ping","type":1}}`

// ============================================================================
// End-to-end
// ============================================================================

func TestGateway_AckPrecedesFollowUp(t *testing.T) {
	h := newHarness(t, nil)

	resp, body := h.post(t, pingCommand, true)
	if resp.StatusCode != http.StatusOK || body != `{"type":5}` {
		t.Fatalf("ack = %d %s, want 200 {\"type\":5}", resp.StatusCode, body)
	}

	// The PATCH is still blocked in the fake, so the ack above did not wait for it.
	select {
	case path := <-h.discord.patched:
		if path != "/webhooks/app-1/tok-100/messages/@original" {
			t.Errorf("PATCH path = %s", path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("follow-up PATCH never arrived")
	}
	close(h.discord.release)

	rec := waitForRecord(t, h.gw.Store(), "100")
	if rec.Outcome != storage.OutcomeDelivered || rec.Command != "ping" {
		t.Errorf("record = %+v", rec)
	}
	h.discord.mu.Lock()
	defer h.discord.mu.Unlock()
	if len(h.discord.bodies) != 1 || h.discord.bodies[0].Content != "pong!" {
		t.Errorf("follow-up bodies = %+v", h.discord.bodies)
	}
}

func TestGateway_PingAndRejections(t *testing.T) {
	h := newHarness(t, nil)
	close(h.discord.release)

	resp, body := h.post(t, `{"id":"1","application_id":"app-1","type":1,"token":"t"}`, true)
	if resp.StatusCode != http.StatusOK || body != `{"type":1}` {
		t.Errorf("ping = %d %s", resp.StatusCode, body)
	}

	resp, body = h.post(t, pingCommand, false)
	if resp.StatusCode != http.StatusUnauthorized || body != "invalid request signature" {
		t.Errorf("unsigned = %d %s, want 401", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.gw.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if n := h.discord.patches.Load(); n != 0 {
		t.Errorf("PATCH calls = %d, want 0 (nothing valid was enqueued)", n)
	}
}

func TestGateway_HealthAndMetrics(t *testing.T) {
	h := newHarness(t, nil)
	close(h.discord.release)

	h.post(t, pingCommand, true)
	waitForRecord(t, h.gw.Store(), "100")

	resp, err := http.Get(h.base + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz = %d", resp.StatusCode)
	}

	resp, err = http.Get(h.base + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{
		`interactions_gateway_interactions_received_total{type="application_command"} 1`,
		`interactions_gateway_deliveries_total{outcome="delivered"} 1`,
		`interactions_gateway_catalog_commands 1`,
	} {
		if !strings.Contains(string(b), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}
}

func TestGateway_AdminAPI(t *testing.T) {
	tests := []struct {
		name       string
		admin      bool
		wantStatus int
	}{
		{"enabled", true, http.StatusOK},
		{"disabled by default", false, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(cfg *config.Config) { cfg.Server.Admin = tt.admin })
			close(h.discord.release)

			resp, err := http.Get(h.base + "/admin/api/commands")
			if err != nil {
				t.Fatal(err)
			}
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("/admin/api/commands = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.admin && !strings.Contains(string(b), `"name":"ping"`) {
				t.Errorf("catalog listing = %s", b)
			}
		})
	}
}

func TestGateway_RegistersCommandsAtStartup(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Discord.RegisterCommands = true
		cfg.Discord.BotToken = "bot-token"
		cfg.Discord.ApplicationID = "app-1"
	})
	close(h.discord.release)

	if n := h.discord.registers.Load(); n != 1 {
		t.Errorf("command registrations = %d, want 1", n)
	}
}

func TestGateway_SkipsRegistrationWithoutBotToken(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Discord.RegisterCommands = true
		cfg.Discord.BotToken = ""
	})
	close(h.discord.release)

	if n := h.discord.registers.Load(); n != 0 {
		t.Errorf("command registrations = %d, want 0", n)
	}
	resp, body := h.post(t, `{"id":"1","application_id":"app-1","type":1,"token":"t"}`, true)
	if resp.StatusCode != http.StatusOK || body != `{"type":1}` {
		t.Errorf("ping = %d %s, want 200 {\"type\":1}", resp.StatusCode, body)
	}
}

func TestGateway_ShutdownDrainsQueue(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Workers.Count = 1 })

	for _, id := range []string{"1", "2", "3"} {
		body := strings.Replace(strings.Replace(pingCommand, `"100"`, `"`+id+`"`, 1), "tok-100", "tok-"+id, 1)
		if resp, _ := h.post(t, body, true); resp.StatusCode != http.StatusOK {
			t.Fatalf("post %s: %d", id, resp.StatusCode)
		}
	}
	<-h.discord.patched
	close(h.discord.release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.gw.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if n := h.discord.patches.Load(); n != 3 {
		t.Errorf("PATCH calls = %d, want 3 (queued work drained before exit)", n)
	}
}

// ============================================================================
// Construction
// ============================================================================

func TestGateway_New_RequiresConfig(t *testing.T) {
	_, err := New()
	if err == nil || !strings.Contains(err.Error(), "config required") {
		t.Errorf("New() error = %v, want config required", err)
	}
}

func TestGateway_New_RejectsInvalidConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(WithConfig(cfg)); err == nil || !strings.Contains(err.Error(), "public_key") {
		t.Errorf("New() error = %v, want public_key validation error", err)
	}
}

func TestProvision(t *testing.T) {
	t.Chdir(t.TempDir())
	fd := newFakeDiscord(t)
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.Commands.Path, []byte(catalog), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Provision(context.Background(), cfg, nil, nil); err == nil {
		t.Error("Provision() without bot token error = nil")
	}

	cfg.Discord.BotToken = "bot-token"
	cfg.Discord.ApplicationID = "app-1"
	cfg.Discord.APIBaseURL = fd.URL
	id, err := Provision(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if id != "app-1" || fd.registers.Load() != 1 {
		t.Errorf("id = %s, registrations = %d", id, fd.registers.Load())
	}
}

func waitForRecord(t *testing.T, store storage.DeliveryStore, interactionID string) *storage.DeliveryRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		recs, err := store.ListDeliveries(context.Background(), storage.ListOptions{})
		if err != nil {
			t.Fatalf("ListDeliveries() error = %v", err)
		}
		for _, rec := range recs {
			if rec.InteractionID == interactionID {
				return rec
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no delivery record for interaction %s", interactionID)
	return nil
}
