package homeassistant

type fanConfiguration struct {
	UniqueId               string              `json:"unique_id"`
	Name                   string              `json:"name"`
	StateTopic             string              `json:"state_topic"`
	CommandTopic           string              `json:"command_topic"`
	PresetModeStateTopic   string              `json:"preset_mode_state_topic"`
	PresetModeCommandTopic string              `json:"preset_mode_command_topic"`
	PresetModes            []string            `json:"preset_modes"`
	AvailabilityTopic      string              `json:"availability_topic"`
	Device                 deviceConfiguration `json:"device"`
}

type selectConfiguration struct {
	UniqueId          string              `json:"unique_id"`
	Name              string              `json:"name"`
	StateTopic        string              `json:"state_topic"`
	CommandTopic      string              `json:"command_topic"`
	Options           []string            `json:"options"`
	Icon              string              `json:"icon,omitempty"`
	AvailabilityTopic string              `json:"availability_topic"`
	Device            deviceConfiguration `json:"device"`
}

type deviceConfiguration struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
}

// Device groups the entities of one Brink system in Home Assistant.
type Device struct {
	SystemID int
	Name     string
}

type Fan struct {
	Device      Device
	PresetModes []string
}

type Select struct {
	Device  Device
	Name    string
	Options []string
}
