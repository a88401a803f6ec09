package homeassistant

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/victorjacobs/go-brink/config"
)

type Client struct {
	mqtt mqtt.Client
}

func NewClient(mqtt mqtt.Client) *Client {
	return &Client{
		mqtt: mqtt,
	}
}

// Topics of the fan and mode select of a single system.
type Topics struct {
	FanState      string
	FanCommand    string
	PresetState   string
	PresetCommand string
	ModeState     string
	ModeCommand   string
}

func SystemTopics(systemID int) Topics {
	prefix := fmt.Sprintf("%v/%v", config.TopicPrefix, systemID)

	return Topics{
		FanState:      prefix + "/fan/state",
		FanCommand:    prefix + "/fan/cmd",
		PresetState:   prefix + "/fan/preset/state",
		PresetCommand: prefix + "/fan/preset/cmd",
		ModeState:     prefix + "/mode/state",
		ModeCommand:   prefix + "/mode/cmd",
	}
}

func (d Device) configuration() deviceConfiguration {
	return deviceConfiguration{
		Identifiers:  []string{fmt.Sprintf("brink_%v", d.SystemID)},
		Name:         d.Name,
		Manufacturer: "Brink",
	}
}

func (h *Client) RegisterFan(fan Fan) error {
	topics := SystemTopics(fan.Device.SystemID)
	uniqueId := fmt.Sprintf("brink_%v_fan", fan.Device.SystemID)

	fanConfiguration, _ := json.Marshal(fanConfiguration{
		UniqueId:               uniqueId,
		Name:                   fan.Device.Name,
		StateTopic:             topics.FanState,
		CommandTopic:           topics.FanCommand,
		PresetModeStateTopic:   topics.PresetState,
		PresetModeCommandTopic: topics.PresetCommand,
		PresetModes:            fan.PresetModes,
		AvailabilityTopic:      config.AvailabilityTopic,
		Device:                 fan.Device.configuration(),
	})

	configTopic := fmt.Sprintf("%v/fan/%v/config", config.HomeAssistantPrefix, uniqueId)

	return h.publish(configTopic, fanConfiguration)
}

func (h *Client) RegisterSelect(sel Select) error {
	topics := SystemTopics(sel.Device.SystemID)
	uniqueId := fmt.Sprintf("brink_%v_mode", sel.Device.SystemID)

	selectConfiguration, _ := json.Marshal(selectConfiguration{
		UniqueId:          uniqueId,
		Name:              sel.Name,
		StateTopic:        topics.ModeState,
		CommandTopic:      topics.ModeCommand,
		Options:           sel.Options,
		Icon:              "mdi:fan-auto",
		AvailabilityTopic: config.AvailabilityTopic,
		Device:            sel.Device.configuration(),
	})

	configTopic := fmt.Sprintf("%v/select/%v/config", config.HomeAssistantPrefix, uniqueId)

	return h.publish(configTopic, selectConfiguration)
}

func (h *Client) publish(topic string, payload []byte) error {
	if t := h.mqtt.Publish(topic, 0, true, payload); t.Wait() && t.Error() != nil {
		return t.Error()
	}

	return nil
}
