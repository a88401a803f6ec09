package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/victorjacobs/go-brink/config"
	"github.com/victorjacobs/go-brink/internal/mqtttest"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// fakePortal serves a single system with a ventilation level (value id 101)
// and a mode (value id 202).
type fakePortal struct {
	mu          sync.Mutex
	ventilation string
	mode        string
	logins      int
	failReads   bool
	writes      [][]map[string]any
}

func (p *fakePortal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch r.URL.Path {
	case "/UserLogon":
		p.logins++
		_, _ = io.WriteString(w, `{"isLoggedIn": true}`)
	case "/GetSystemList":
		_, _ = io.WriteString(w, `[{"id": 12, "gatewayId": 34, "name": "Flair"}]`)
	case "/GetParameterValues":
		if p.failReads {
			http.Error(w, "session expired", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"menuItems": [{"pages": [{"parameterDescriptors": [
			{"name": "Level", "valueId": 101, "value": %q, "listItems": [
				{"value": "0", "displayText": "Holiday", "isSelectable": false},
				{"value": "1", "displayText": "Low", "isSelectable": true},
				{"value": "2", "displayText": "Normal", "isSelectable": true},
				{"value": "3", "displayText": "High", "isSelectable": true}
			]},
			{"name": "Mode", "valueId": 202, "value": %q, "listItems": [
				{"value": "0", "displayText": "Automatic", "isSelectable": true},
				{"value": "1", "displayText": "Manual", "isSelectable": true}
			]}
		]}]}]}`, p.ventilation, p.mode)
	case "/WriteParameterValuesAsync":
		var body struct {
			WriteParameterValues []map[string]any
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.writes = append(p.writes, body.WriteParameterValues)
		for _, write := range body.WriteParameterValues {
			switch write["ValueId"] {
			case float64(101):
				p.ventilation = write["Value"].(string)
			case float64(202):
				p.mode = write["Value"].(string)
			}
		}
		_, _ = io.WriteString(w, "ok")
	default:
		http.NotFound(w, r)
	}
}

func (p *fakePortal) state() (string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ventilation, p.mode
}

func newTestBridge(t *testing.T) (*Bridge, *fakePortal, *mqtttest.Client) {
	t.Helper()

	portal := &fakePortal{ventilation: "2", mode: "0"}
	server := httptest.NewServer(portal)
	t.Cleanup(server.Close)

	cfg := &config.Configuration{
		Brink: config.Brink{Username: "u", Password: "p", ApiUrl: server.URL},
	}

	b, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return b, portal, mqtttest.NewClient()
}

func assertLast(t *testing.T, fake *mqtttest.Client, topic string, want string) {
	t.Helper()

	msg, ok := fake.Last(topic)
	if !ok {
		t.Fatalf("nothing published on %v", topic)
	}
	if msg.Payload != want {
		t.Fatalf("%v: got %q, want %q", topic, msg.Payload, want)
	}
}

func TestRegisterEntities(t *testing.T) {
	b, _, fake := newTestBridge(t)

	if err := b.RegisterEntities(fake); err != nil {
		t.Fatalf("RegisterEntities: %v", err)
	}

	msg, ok := fake.Last("homeassistant/fan/brink_12_fan/config")
	if !ok {
		t.Fatal("fan not registered")
	}
	if !strings.Contains(msg.Payload, `"preset_modes":["Low","Normal","High"]`) {
		t.Fatalf("unexpected fan presets: %v", msg.Payload)
	}

	msg, ok = fake.Last("homeassistant/select/brink_12_mode/config")
	if !ok {
		t.Fatal("mode select not registered")
	}
	if !strings.Contains(msg.Payload, `"options":["Automatic","Manual"]`) {
		t.Fatalf("unexpected mode options: %v", msg.Payload)
	}
}

func TestPollPublishesChanges(t *testing.T) {
	b, portal, fake := newTestBridge(t)

	if err := b.Poll(context.Background(), fake); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	assertLast(t, fake, config.AvailabilityTopic, "online")
	assertLast(t, fake, "brink/12/fan/state", "ON")
	assertLast(t, fake, "brink/12/fan/preset/state", "Normal")
	assertLast(t, fake, "brink/12/mode/state", "Automatic")

	// Nothing changed, nothing republished
	if err := b.Poll(context.Background(), fake); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got, want := fake.Count("brink/12/fan/preset/state"), 1; got != want {
		t.Fatalf("preset publishes: got %v, want %v", got, want)
	}

	portal.mu.Lock()
	portal.ventilation = "1"
	portal.mu.Unlock()

	if err := b.Poll(context.Background(), fake); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	assertLast(t, fake, "brink/12/fan/preset/state", "Low")
	assertLast(t, fake, "brink/12/fan/state", "OFF")

	if got, want := testutil.ToFloat64(b.metrics.ventilationStep.WithLabelValues("12", "Flair")), 1.0; got != want {
		t.Fatalf("ventilation metric: got %v, want %v", got, want)
	}
	if got, want := testutil.ToFloat64(b.metrics.pollSuccess), 1.0; got != want {
		t.Fatalf("poll success metric: got %v, want %v", got, want)
	}
}

func TestPollFailureLogsInAgain(t *testing.T) {
	b, portal, fake := newTestBridge(t)

	portal.mu.Lock()
	portal.failReads = true
	portal.mu.Unlock()

	if err := b.Poll(context.Background(), fake); err == nil {
		t.Fatal("expected poll error")
	}
	assertLast(t, fake, config.AvailabilityTopic, "offline")
	if got, want := testutil.ToFloat64(b.metrics.pollSuccess), 0.0; got != want {
		t.Fatalf("poll success metric: got %v, want %v", got, want)
	}
	if b.State().Available {
		t.Fatal("state reports available after failed poll")
	}

	portal.mu.Lock()
	portal.failReads = false
	portal.mu.Unlock()

	if err := b.Poll(context.Background(), fake); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	assertLast(t, fake, config.AvailabilityTopic, "online")

	portal.mu.Lock()
	logins := portal.logins
	portal.mu.Unlock()
	if got, want := logins, 2; got != want {
		t.Fatalf("logins: got %v, want %v", got, want)
	}
}

func TestPresetCommand(t *testing.T) {
	b, portal, fake := newTestBridge(t)
	b.SubscribeToCommands(fake)

	if err := fake.Deliver("brink/12/fan/preset/cmd", "High"); err != nil {
		t.Fatal(err)
	}

	ventilation, mode := portal.state()
	if got, want := ventilation, "3"; got != want {
		t.Fatalf("ventilation: got %v, want %v", got, want)
	}
	if got, want := mode, "1"; got != want {
		t.Fatalf("mode forced to manual: got %v, want %v", got, want)
	}
	assertLast(t, fake, "brink/12/fan/preset/state", "High")
	assertLast(t, fake, "brink/12/mode/state", "Manual")

	if got, want := testutil.ToFloat64(b.metrics.commands.WithLabelValues("ventilation", "success")), 1.0; got != want {
		t.Fatalf("command metric: got %v, want %v", got, want)
	}
}

func TestUnknownPreset(t *testing.T) {
	b, portal, fake := newTestBridge(t)

	if err := b.SetVentilationPreset(fake, 12, "Holiday"); err == nil {
		t.Fatal("expected error for unselectable preset")
	}
	if err := b.SetVentilationPreset(fake, 99, "Low"); err == nil {
		t.Fatal("expected error for unknown system")
	}

	portal.mu.Lock()
	writes := len(portal.writes)
	portal.mu.Unlock()
	if writes != 0 {
		t.Fatalf("expected no writes, got %v", writes)
	}
}

func TestToggleFan(t *testing.T) {
	b, portal, fake := newTestBridge(t)
	b.SubscribeToCommands(fake)

	// Normal -> off (lowest level) -> back to Normal
	if err := fake.Deliver("brink/12/fan/cmd", "OFF"); err != nil {
		t.Fatal(err)
	}
	if ventilation, _ := portal.state(); ventilation != "1" {
		t.Fatalf("ventilation after OFF: got %v, want 1", ventilation)
	}
	assertLast(t, fake, "brink/12/fan/state", "OFF")

	if err := fake.Deliver("brink/12/fan/cmd", "ON"); err != nil {
		t.Fatal(err)
	}
	if ventilation, _ := portal.state(); ventilation != "2" {
		t.Fatalf("ventilation after ON: got %v, want 2", ventilation)
	}
	assertLast(t, fake, "brink/12/fan/state", "ON")
}

func TestToggleFanOnWhileRunning(t *testing.T) {
	b, portal, fake := newTestBridge(t)
	b.SubscribeToCommands(fake)

	// Leaves Normal as the level to restore.
	if err := fake.Deliver("brink/12/fan/cmd", "OFF"); err != nil {
		t.Fatal(err)
	}
	if err := fake.Deliver("brink/12/fan/preset/cmd", "High"); err != nil {
		t.Fatal(err)
	}

	portal.mu.Lock()
	writes := len(portal.writes)
	portal.mu.Unlock()

	if err := fake.Deliver("brink/12/fan/cmd", "ON"); err != nil {
		t.Fatal(err)
	}

	if ventilation, _ := portal.state(); ventilation != "3" {
		t.Fatalf("ventilation after ON: got %v, want 3", ventilation)
	}

	portal.mu.Lock()
	defer portal.mu.Unlock()

	if got, want := len(portal.writes), writes; got != want {
		t.Fatalf("writes: got %v, want %v", got, want)
	}
}

func TestToggleFanForgetsRestoredLevel(t *testing.T) {
	b, portal, fake := newTestBridge(t)
	b.SubscribeToCommands(fake)

	for _, payload := range []string{"OFF", "ON"} {
		if err := fake.Deliver("brink/12/fan/cmd", payload); err != nil {
			t.Fatal(err)
		}
	}

	// Lowest level reached through a preset: on has nothing to restore.
	if err := fake.Deliver("brink/12/fan/preset/cmd", "Low"); err != nil {
		t.Fatal(err)
	}
	if err := fake.Deliver("brink/12/fan/cmd", "ON"); err != nil {
		t.Fatal(err)
	}
	if ventilation, _ := portal.state(); ventilation != "2" {
		t.Fatalf("ventilation after ON: got %v, want 2", ventilation)
	}

	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if got := b.systems[0].previousPreset; got != "" {
		t.Fatalf("previous preset not cleared: %q", got)
	}
}

func TestModeCommand(t *testing.T) {
	b, portal, fake := newTestBridge(t)
	b.SubscribeToCommands(fake)

	portal.mu.Lock()
	portal.mode = "1"
	portal.mu.Unlock()

	if err := fake.Deliver("brink/12/mode/cmd", "Automatic"); err != nil {
		t.Fatal(err)
	}

	portal.mu.Lock()
	defer portal.mu.Unlock()

	if got, want := portal.mode, "0"; got != want {
		t.Fatalf("mode: got %v, want %v", got, want)
	}
	if got, want := len(portal.writes), 1; got != want {
		t.Fatalf("writes: got %v, want %v", got, want)
	}
	if got, want := len(portal.writes[0]), 1; got != want {
		t.Fatalf("write entries: got %v, want %v", got, want)
	}
}

func TestState(t *testing.T) {
	b, _, _ := newTestBridge(t)

	state := b.State()
	if got, want := len(state.Systems), 1; got != want {
		t.Fatalf("systems: got %v, want %v", got, want)
	}

	s := state.Systems[0]
	if s.SystemID != 12 || s.GatewayID != 34 || s.Name != "Flair" {
		t.Fatalf("unexpected system: %+v", s.System)
	}
	if got, want := s.Descriptions.Ventilation.Value, "2"; got != want {
		t.Fatalf("ventilation: got %v, want %v", got, want)
	}
	if !state.Available {
		t.Fatal("expected available")
	}
	if state.LastRefreshed.IsZero() {
		t.Fatal("last refreshed not set")
	}
}
