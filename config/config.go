package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const HomeAssistantPrefix = "homeassistant"
const TopicPrefix = "brink"

// AvailabilityTopic carries "online"/"offline" for the bridge as a whole.
const AvailabilityTopic = TopicPrefix + "/availability"

const (
	DefaultPollIntervalSeconds = 30
	DefaultListenAddress       = ":8080"
)

type Configuration struct {
	Brink               Brink  `json:"brink"`
	Mqtt                Mqtt   `json:"mqtt"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	ListenAddress       string `json:"listen_address"`
}

type Brink struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// Overrides the portal URL, only useful against a fake portal
	ApiUrl string `json:"api_url"`
}

type Mqtt struct {
	IpAddress string `json:"ip_address"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

func LoadConfiguration(filename string) (*Configuration, error) {
	var file *os.File
	var err error
	if file, err = os.Open(filename); err != nil {
		return nil, err
	}

	defer file.Close()
	decoder := json.NewDecoder(file)
	configuration := &Configuration{}
	if err := decoder.Decode(configuration); err != nil {
		return nil, fmt.Errorf("parse %v: %w", filename, err)
	}

	configuration.applyDefaults()
	if err := configuration.Validate(); err != nil {
		return nil, err
	}

	return configuration, nil
}

func (c *Configuration) applyDefaults() {
	if c.PollIntervalSeconds == 0 {
		c.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
}

func (c *Configuration) Validate() error {
	if c.Brink.Username == "" {
		return errors.New("brink.username is required")
	}
	if c.Brink.Password == "" {
		return errors.New("brink.password is required")
	}
	if c.Mqtt.IpAddress == "" {
		return errors.New("mqtt.ip_address is required")
	}
	if c.PollIntervalSeconds < 0 {
		return fmt.Errorf("poll_interval_seconds must be positive, got %v", c.PollIntervalSeconds)
	}

	return nil
}

func (c *Configuration) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (m *Mqtt) ClientOptions() *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%v:1883", m.IpAddress)).
		SetClientID("go-brink").
		SetUsername(m.Username).
		SetPassword(m.Password).
		SetAutoReconnect(true).
		// Command handlers call the portal and can block for seconds.
		SetOrderMatters(false).
		SetWill(AvailabilityTopic, "offline", 0, true).
		SetConnectionLostHandler(func(client mqtt.Client, err error) {
			log.Printf("MQTT connection lost: %v", err)
		}).
		SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
			log.Printf("MQTT reconnecting")
		})
}
