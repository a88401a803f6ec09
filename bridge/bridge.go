package bridge

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/victorjacobs/go-brink/brink"
	"github.com/victorjacobs/go-brink/config"
	"github.com/victorjacobs/go-brink/homeassistant"
)

const (
	fanOn  = "ON"
	fanOff = "OFF"

	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

type Bridge struct {
	cfg         *config.Configuration
	brinkClient *brink.Client
	metrics     *metrics

	// Serialises portal access between the poll loop and MQTT commands.
	ioMutex sync.Mutex
	// Set after a failed poll; the portal session may have expired.
	relogin bool

	mutex         sync.RWMutex
	systems       []*system
	lastRefreshed time.Time
	available     *bool
}

type system struct {
	brink.System
	topics       homeassistant.Topics
	descriptions *brink.Descriptions

	lastFanState   string
	lastPreset     string
	lastMode       string
	previousPreset string
}

func New(ctx context.Context, cfg *config.Configuration) (*Bridge, error) {
	var opts []brink.Option
	if cfg.Brink.ApiUrl != "" {
		opts = append(opts, brink.WithBaseURL(cfg.Brink.ApiUrl))
	}

	log.Printf("Logging in to Brink portal as %v", cfg.Brink.Username)

	brinkClient := brink.NewClient(nil, cfg.Brink.Username, cfg.Brink.Password, opts...)
	if _, err := brinkClient.Login(ctx); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	brinkSystems, err := brinkClient.Systems(ctx)
	if err != nil {
		return nil, err
	}
	if len(brinkSystems) == 0 {
		return nil, fmt.Errorf("no systems found for %v", cfg.Brink.Username)
	}

	b := &Bridge{
		cfg:         cfg,
		brinkClient: brinkClient,
		metrics:     newMetrics(),
	}

	for _, s := range brinkSystems {
		descriptions, err := brinkClient.DescriptionValues(ctx, s.SystemID, s.GatewayID)
		if err != nil {
			return nil, fmt.Errorf("read parameters of %v: %w", s.Name, err)
		}

		log.Printf("Found system %v (id %v, gateway %v), ventilation %v, mode %v",
			s.Name, s.SystemID, s.GatewayID, descriptions.Ventilation.Value, descriptions.Mode.Value)

		b.systems = append(b.systems, &system{
			System:       s,
			topics:       homeassistant.SystemTopics(s.SystemID),
			descriptions: descriptions,
		})
		b.metrics.observe(s, descriptions)
	}

	b.lastRefreshed = time.Now()
	b.metrics.pollSucceeded(b.lastRefreshed)

	return b, nil
}

// RegisterEntities publishes one fan and one mode select per system.
func (b *Bridge) RegisterEntities(mqttClient mqtt.Client) error {
	homeAssistantClient := homeassistant.NewClient(mqttClient)

	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for _, s := range b.systems {
		device := homeassistant.Device{SystemID: s.SystemID, Name: s.Name}

		if err := homeAssistantClient.RegisterFan(homeassistant.Fan{
			Device:      device,
			PresetModes: s.descriptions.Ventilation.Texts(),
		}); err != nil {
			return err
		}

		if err := homeAssistantClient.RegisterSelect(homeassistant.Select{
			Device:  device,
			Name:    s.Name + " " + s.descriptions.Mode.Name,
			Options: s.descriptions.Mode.Texts(),
		}); err != nil {
			return err
		}

		log.Printf("Registered fan and mode select for %v", s.Name)
	}

	return nil
}

func (b *Bridge) SubscribeToCommands(mqttClient mqtt.Client) {
	b.mutex.RLock()
	systems := append([]*system(nil), b.systems...)
	b.mutex.RUnlock()

	for _, s := range systems {
		s := s
		if t := mqttClient.Subscribe(s.topics.FanCommand, 0, func(client mqtt.Client, msg mqtt.Message) {
			if err := b.ToggleFan(client, s.SystemID, string(msg.Payload()) != fanOff); err != nil {
				log.Printf("Error toggling fan of %v: %v", s.Name, err)
			}
		}); t.Wait() && t.Error() != nil {
			log.Printf("MQTT receive error: %v", t.Error())
		}

		if t := mqttClient.Subscribe(s.topics.PresetCommand, 0, func(client mqtt.Client, msg mqtt.Message) {
			if err := b.SetVentilationPreset(client, s.SystemID, string(msg.Payload())); err != nil {
				log.Printf("Error setting ventilation level of %v: %v", s.Name, err)
			}
		}); t.Wait() && t.Error() != nil {
			log.Printf("MQTT receive error: %v", t.Error())
		}

		if t := mqttClient.Subscribe(s.topics.ModeCommand, 0, func(client mqtt.Client, msg mqtt.Message) {
			if err := b.SetMode(client, s.SystemID, string(msg.Payload())); err != nil {
				log.Printf("Error setting mode of %v: %v", s.Name, err)
			}
		}); t.Wait() && t.Error() != nil {
			log.Printf("MQTT receive error: %v", t.Error())
		}
	}
}

// Poll re-reads every system and publishes whatever changed. A failed poll
// marks the bridge unavailable and forces a fresh login on the next one.
func (b *Bridge) Poll(ctx context.Context, mqttClient mqtt.Client) error {
	b.ioMutex.Lock()
	defer b.ioMutex.Unlock()

	if b.relogin {
		log.Printf("Logging in to Brink portal again")

		if _, err := b.brinkClient.Login(ctx); err != nil {
			b.pollFailed(mqttClient)
			return fmt.Errorf("login: %w", err)
		}
		b.relogin = false
	}

	b.mutex.RLock()
	systems := append([]*system(nil), b.systems...)
	b.mutex.RUnlock()

	for _, s := range systems {
		if err := b.refresh(ctx, s); err != nil {
			b.relogin = true
			b.pollFailed(mqttClient)
			return fmt.Errorf("poll %v: %w", s.Name, err)
		}
	}

	now := time.Now()
	b.mutex.Lock()
	b.lastRefreshed = now
	b.mutex.Unlock()

	b.metrics.pollSucceeded(now)
	b.publishAvailability(mqttClient, true)

	for _, s := range systems {
		b.publishState(mqttClient, s)
	}

	return nil
}

func (b *Bridge) SetVentilationPreset(mqttClient mqtt.Client, systemID int, preset string) error {
	s, err := b.system(systemID)
	if err != nil {
		return err
	}

	b.ioMutex.Lock()
	defer b.ioMutex.Unlock()

	descriptions := b.descriptions(s)
	level, ok := descriptions.Ventilation.LookupText(preset)
	if !ok {
		return fmt.Errorf("received unexpected preset: %v", preset)
	}

	return b.writeVentilation(mqttClient, s, descriptions, level)
}

// ToggleFan maps the Home Assistant on/off switch onto ventilation levels:
// off is the lowest selectable level, on restores the level before that.
// On is ignored while the fan already runs above the lowest level.
func (b *Bridge) ToggleFan(mqttClient mqtt.Client, systemID int, toggle bool) error {
	s, err := b.system(systemID)
	if err != nil {
		return err
	}

	b.ioMutex.Lock()
	defer b.ioMutex.Unlock()

	descriptions := b.descriptions(s)
	levels := descriptions.Ventilation.Values
	if len(levels) == 0 {
		return fmt.Errorf("%v has no selectable ventilation levels", s.Name)
	}

	var level brink.ListValue
	if toggle {
		if descriptions.Ventilation.Value != levels[0].Value {
			return nil
		}

		b.mutex.Lock()
		previous := s.previousPreset
		s.previousPreset = ""
		b.mutex.Unlock()

		var ok bool
		if level, ok = descriptions.Ventilation.LookupText(previous); !ok {
			level = levels[len(levels)/2]
		}
	} else {
		level = levels[0]

		if current, ok := descriptions.Ventilation.Lookup(descriptions.Ventilation.Value); ok && current.Value != level.Value {
			b.mutex.Lock()
			s.previousPreset = current.Text
			b.mutex.Unlock()
		}
	}

	return b.writeVentilation(mqttClient, s, descriptions, level)
}

func (b *Bridge) SetMode(mqttClient mqtt.Client, systemID int, modeText string) error {
	s, err := b.system(systemID)
	if err != nil {
		return err
	}

	b.ioMutex.Lock()
	defer b.ioMutex.Unlock()

	descriptions := b.descriptions(s)
	mode, ok := descriptions.Mode.LookupText(modeText)
	if !ok {
		return fmt.Errorf("received unexpected mode: %v", modeText)
	}

	ctx := context.Background()

	_, err = b.brinkClient.SetModeValue(ctx, s.SystemID, s.GatewayID, descriptions.Mode.WithValue(mode.Value))
	b.metrics.command("mode", err)
	if err != nil {
		return err
	}

	log.Printf("Set mode of %v to %v", s.Name, mode.Text)

	return b.refreshAndPublish(ctx, mqttClient, s)
}

func (b *Bridge) writeVentilation(mqttClient mqtt.Client, s *system, descriptions brink.Descriptions, level brink.ListValue) error {
	ctx := context.Background()

	_, err := b.brinkClient.SetVentilationValue(ctx, s.SystemID, s.GatewayID, descriptions.Mode, descriptions.Ventilation.WithValue(level.Value))
	b.metrics.command("ventilation", err)
	if err != nil {
		return err
	}

	log.Printf("Set ventilation level of %v to %v", s.Name, level.Text)

	return b.refreshAndPublish(ctx, mqttClient, s)
}

func (b *Bridge) refreshAndPublish(ctx context.Context, mqttClient mqtt.Client, s *system) error {
	if err := b.refresh(ctx, s); err != nil {
		return fmt.Errorf("refresh after write: %w", err)
	}

	b.publishState(mqttClient, s)
	return nil
}

func (b *Bridge) refresh(ctx context.Context, s *system) error {
	descriptions, err := b.brinkClient.DescriptionValues(ctx, s.SystemID, s.GatewayID)
	if err != nil {
		return err
	}

	b.mutex.Lock()
	s.descriptions = descriptions
	b.mutex.Unlock()

	b.metrics.observe(s.System, descriptions)
	return nil
}

func (b *Bridge) publishState(mqttClient mqtt.Client, s *system) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	ventilation := s.descriptions.Ventilation
	preset := ventilation.Value
	if current, ok := ventilation.Lookup(ventilation.Value); ok {
		preset = current.Text
	}

	fanState := fanOn
	if len(ventilation.Values) > 0 && ventilation.Value == ventilation.Values[0].Value {
		fanState = fanOff
	}

	mode := s.descriptions.Mode.Value
	if current, ok := s.descriptions.Mode.Lookup(mode); ok {
		mode = current.Text
	}

	if s.lastFanState != fanState {
		if t := mqttClient.Publish(s.topics.FanState, 0, true, fanState); t.Wait() && t.Error() != nil {
			log.Printf("MQTT publishing failed: %v", t.Error())
			return
		}
		s.lastFanState = fanState
	}

	if s.lastPreset != preset {
		if t := mqttClient.Publish(s.topics.PresetState, 0, true, preset); t.Wait() && t.Error() != nil {
			log.Printf("MQTT publishing failed: %v", t.Error())
			return
		}
		s.lastPreset = preset
	}

	if s.lastMode != mode {
		if t := mqttClient.Publish(s.topics.ModeState, 0, true, mode); t.Wait() && t.Error() != nil {
			log.Printf("MQTT publishing failed: %v", t.Error())
			return
		}
		s.lastMode = mode
	}
}

func (b *Bridge) pollFailed(mqttClient mqtt.Client) {
	b.metrics.pollFailed()
	b.publishAvailability(mqttClient, false)
}

func (b *Bridge) publishAvailability(mqttClient mqtt.Client, available bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.available != nil && *b.available == available {
		return
	}

	payload := availabilityOffline
	if available {
		payload = availabilityOnline
	}

	if t := mqttClient.Publish(config.AvailabilityTopic, 0, true, payload); t.Wait() && t.Error() != nil {
		log.Printf("MQTT publishing failed: %v", t.Error())
		return
	}

	b.available = &available
}

func (b *Bridge) system(systemID int) (*system, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for _, s := range b.systems {
		if s.SystemID == systemID {
			return s, nil
		}
	}

	return nil, fmt.Errorf("unknown system %v", systemID)
}

func (b *Bridge) descriptions(s *system) brink.Descriptions {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	return *s.descriptions
}

type SystemState struct {
	brink.System
	Descriptions brink.Descriptions `json:"descriptions"`
}

type State struct {
	Systems       []SystemState `json:"systems"`
	Available     bool          `json:"available"`
	LastRefreshed time.Time     `json:"last_refreshed"`
}

// State returns the values read by the most recent poll.
func (b *Bridge) State() State {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	state := State{
		Systems:       make([]SystemState, 0, len(b.systems)),
		Available:     b.available == nil || *b.available,
		LastRefreshed: b.lastRefreshed,
	}

	for _, s := range b.systems {
		state.Systems = append(state.Systems, SystemState{
			System:       s.System,
			Descriptions: *s.descriptions,
		})
	}

	return state
}

func (b *Bridge) Registry() *prometheus.Registry {
	return b.metrics.registry
}
