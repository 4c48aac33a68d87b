package devices

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Raw wire types for the two vendor payload shapes. Loosely typed data stops
// at this boundary; nothing outside the normalizer sees these.

type rawDevice struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`

	Features json.RawMessage   `json:"features"`
	Settings json.RawMessage   `json:"settings"`
	Zones    []json.RawMessage `json:"zones"`

	Links rawLinks `json:"_links"`
}

type rawZone struct {
	ID   flexValue `json:"id"`
	Name string    `json:"name"`

	Temperature     flexFloat `json:"temperature"`
	HeatingSetpoint *float64  `json:"heating_setpoint"`
	CoolingSetpoint *float64  `json:"cooling_setpoint"`
	CurrentZoneMode string    `json:"current_zone_mode"`
	Preset          string    `json:"preset_selected"`
	Status          string    `json:"zone_status"`

	Features json.RawMessage `json:"features"`
	Settings json.RawMessage `json:"settings"`

	Links rawLinks `json:"_links"`
}

type rawSensor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`

	Temperature      flexFloat `json:"temperature"`
	TemperatureValid bool      `json:"temperature_valid"`
	Humidity         flexFloat `json:"humidity"`
	HumidityValid    bool      `json:"humidity_valid"`

	BatteryLevel flexFloat `json:"battery_level"`
	Weight       float64   `json:"weight"`
	Connected    bool      `json:"connected"`
	Active       bool      `json:"serves_as_sensor"`
}

// featureBlock is one named block from the features collection. Only the
// fields relevant to the block's role are populated.
type featureBlock struct {
	Name string `json:"name"`

	// advanced_info
	Items []labelValue `json:"items"`

	// thermostat: the live operating block
	ID                 string        `json:"id"` // e.g. "XxlZone-85588519"
	Scale              string        `json:"scale"`
	Temperature        flexFloat     `json:"temperature"`
	Status             string        `json:"status"`
	FanMode            string        `json:"fan_mode"`
	Mode               string        `json:"mode"`
	Preset             string        `json:"preset_selected"`
	Setpoints          *rawSetpoints `json:"setpoints"`
	OutdoorTemperature flexFloat     `json:"outdoor_temperature"`
	RelativeHumidity   flexFloat     `json:"current_relative_humidity"`
	Connected          *bool         `json:"connected"`
	SetpointDelta      *float64      `json:"setpoint_delta"`

	// room_iq_sensors
	Sensors []rawSensor `json:"sensors"`

	Links rawLinks `json:"_links"`
}

type rawSetpoints struct {
	Heat *float64 `json:"heat"`
	Cool *float64 `json:"cool"`
}

// settingBlock is one typed block from the settings collection.
type settingBlock struct {
	Type         string      `json:"type"`
	CurrentValue flexValue   `json:"current_value"`
	Options      []rawOption `json:"options"`
}

func (s settingBlock) optionValues() []string {
	if len(s.Options) == 0 {
		return nil
	}
	values := make([]string, 0, len(s.Options))
	for _, opt := range s.Options {
		values = append(values, opt.Value.str())
	}
	return values
}

type rawOption struct {
	Label string    `json:"label"`
	Value flexValue `json:"value"`
}

type labelValue struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type rawLinks struct {
	Self struct {
		Href string `json:"href"`
	} `json:"self"`
}

// flexFloat accepts a JSON number or a numeric string ("88" vs 88); device
// revisions disagree on which they send.
type flexFloat struct {
	value float64
	valid bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}
	s = strings.Trim(s, `"`)

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Non-numeric text is treated as absent, not an error.
		return nil
	}

	f.value = value
	f.valid = true
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.valid {
		return nil
	}
	v := f.value
	return &v
}

// flexValue accepts a JSON string or number and preserves both views.
type flexValue struct {
	text    string
	number  float64
	isNum   bool
	present bool
}

func (f *flexValue) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		f.text = text
		f.present = true
		return nil
	}

	var number float64
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}
	f.number = number
	f.isNum = true
	f.present = true
	return nil
}

func (f flexValue) str() string {
	if !f.present {
		return ""
	}
	if f.isNum {
		return strconv.FormatFloat(f.number, 'f', -1, 64)
	}
	return f.text
}

func (f flexValue) num() *float64 {
	if !f.present || !f.isNum {
		return nil
	}
	v := f.number
	return &v
}
