package devices

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"

	"gonexia/internal/pkg/apierr"
)

// Normalize converts a raw vendor device payload, in either of the two known
// shapes, into one canonical Thermostat record. It is a pure function of the
// input: identical payloads always yield identical records.
//
// The modern shape carries `features` and `settings` as plain keyed objects.
// The legacy shape scatters the same attributes across two parallel arrays
// of named feature blocks and typed setting blocks.
func Normalize(raw json.RawMessage) (*Thermostat, error) {
	var env rawDevice
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apierr.Wrap(apierr.KindParse, err, "decoding device payload")
	}
	if env.ID == 0 {
		return nil, apierr.New(apierr.KindParse, "device payload has no id")
	}

	features, err := decodeFeatures(env.Features)
	if err != nil {
		return nil, err
	}
	settings, err := decodeSettings(env.Settings)
	if err != nil {
		return nil, err
	}

	t := &Thermostat{
		ID:       env.ID,
		Name:     env.Name,
		Unit:     Fahrenheit,
		SelfLink: env.Links.Self.Href,
		Zones:    make(map[string]*Zone),
	}

	if info, ok := features["advanced_info"]; ok {
		t.Model = findLabel(info.Items, "Model")
		t.Firmware = findLabel(info.Items, "Firmware Version")
	}

	live, hasLive := features["thermostat"]
	if hasLive {
		t.Unit = ParseUnit(live.Scale)
		t.Status = live.Status
		t.FanMode = live.FanMode
		t.OutdoorTemperature = live.OutdoorTemperature.ptr()
		t.RelativeHumidity = fraction(live.RelativeHumidity.ptr())
		if live.Connected != nil {
			t.Connected = *live.Connected
		}
		if live.SetpointDelta != nil {
			t.Deadband = *live.SetpointDelta
		}
	}

	if fan, ok := settings["fan_mode"]; ok {
		if t.FanMode == "" {
			t.FanMode = fan.CurrentValue.str()
		}
		t.FanModes = fan.optionValues()
	}
	if hum, ok := settings["humidify"]; ok {
		t.HasHumidify = true
		t.HumidifySetpoint = fraction(hum.CurrentValue.num())
	}
	if dehum, ok := settings["dehumidify"]; ok {
		t.HasDehumidify = true
		t.DehumidifySetpoint = fraction(dehum.CurrentValue.num())
	}
	if ac, ok := settings["air_cleaner_mode"]; ok {
		t.HasAirCleaner = true
		t.AirCleanerMode = ac.CurrentValue.str()
	}

	if len(env.Zones) > 0 {
		for _, rawZone := range env.Zones {
			zone, err := normalizeZone(rawZone, t)
			if err != nil {
				return nil, err
			}
			t.Zones[zone.ID] = zone
		}
		return t, nil
	}

	// No explicit zone array: every thermostat still yields at least one
	// zone, synthesized from its own live operating block.
	if hasLive {
		zone := synthesizeZone(live, features, t)
		t.Zones[zone.ID] = zone
	}

	return t, nil
}

// IsThermostat reports whether a raw collection item describes a thermostat,
// judged by its feature collection carrying the live operating block.
func IsThermostat(raw json.RawMessage) bool {
	var env rawDevice
	if err := json.Unmarshal(raw, &env); err != nil {
		return false
	}
	features, err := decodeFeatures(env.Features)
	if err != nil {
		return false
	}
	_, ok := features["thermostat"]
	return ok
}

// NormalizeAutomation converts a raw automation payload. Automations are
// independent of the thermostat/zone hierarchy.
func NormalizeAutomation(raw json.RawMessage) (*Automation, error) {
	var env struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Enabled     bool   `json:"enabled"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apierr.Wrap(apierr.KindParse, err, "decoding automation payload")
	}
	if env.ID == 0 {
		return nil, apierr.New(apierr.KindParse, "automation payload has no id")
	}

	return &Automation{
		ID:          env.ID,
		Name:        env.Name,
		Description: env.Description,
		Enabled:     env.Enabled,
	}, nil
}

// zoneIDPattern matches the zone identity embedded in operating-block ids
// like "XxlZone-85588519".
var zoneIDPattern = regexp.MustCompile(`XxlZone-(\d+)`)

// extractZoneID pulls the numeric zone id out of an embedded identifier,
// falling back to the owning thermostat's id when the pattern is absent.
func extractZoneID(identifier string, t *Thermostat) string {
	if m := zoneIDPattern.FindStringSubmatch(identifier); m != nil {
		return m[1]
	}
	return strconv.FormatInt(t.ID, 10)
}

func synthesizeZone(live featureBlock, features map[string]featureBlock, t *Thermostat) *Zone {
	zone := &Zone{
		ID:         extractZoneID(live.ID, t),
		Name:       t.Name,
		Mode:       live.Mode,
		Preset:     live.Preset,
		Status:     live.Status,
		SelfLink:   live.Links.Self.Href,
		Sensors:    make(map[int64]*Sensor),
		Thermostat: t,
	}

	if live.Setpoints != nil {
		zone.HeatingSetpoint = live.Setpoints.Heat
		zone.CoolingSetpoint = live.Setpoints.Cool
	}

	if iq, ok := features["room_iq_sensors"]; ok {
		for _, rawSensor := range iq.Sensors {
			sensor := normalizeSensor(rawSensor)
			zone.Sensors[sensor.ID] = sensor
		}
	}

	zone.CurrentTemperature = preferredTemperature(zone.Sensors, live.Temperature.ptr())

	return zone
}

func normalizeZone(raw json.RawMessage, t *Thermostat) (*Zone, error) {
	var env rawZone
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apierr.Wrap(apierr.KindParse, err, "decoding zone payload")
	}

	id := env.ID.str()
	if m := zoneIDPattern.FindStringSubmatch(id); m != nil {
		id = m[1]
	}
	if id == "" {
		id = strconv.FormatInt(t.ID, 10)
	}

	zone := &Zone{
		ID:              id,
		Name:            env.Name,
		Mode:            env.CurrentZoneMode,
		Preset:          env.Preset,
		Status:          env.Status,
		HeatingSetpoint: env.HeatingSetpoint,
		CoolingSetpoint: env.CoolingSetpoint,
		SelfLink:        env.Links.Self.Href,
		Sensors:         make(map[int64]*Sensor),
		Thermostat:      t,
	}

	features, err := decodeFeatures(env.Features)
	if err != nil {
		return nil, err
	}
	if iq, ok := features["room_iq_sensors"]; ok {
		for _, rawSensor := range iq.Sensors {
			sensor := normalizeSensor(rawSensor)
			zone.Sensors[sensor.ID] = sensor
		}
	}

	settings, err := decodeSettings(env.Settings)
	if err != nil {
		return nil, err
	}
	if mode, ok := settings["zone_mode"]; ok {
		if zone.Mode == "" {
			zone.Mode = mode.CurrentValue.str()
		}
		zone.Modes = mode.optionValues()
	}
	if preset, ok := settings["preset_selected"]; ok {
		if zone.Preset == "" {
			zone.Preset = preset.CurrentValue.str()
		}
		zone.Presets = preset.optionValues()
	}

	zone.CurrentTemperature = preferredTemperature(zone.Sensors, env.Temperature.ptr())

	return zone, nil
}

func normalizeSensor(raw rawSensor) *Sensor {
	return &Sensor{
		ID:               raw.ID,
		Name:             raw.Name,
		Type:             raw.Type,
		Temperature:      raw.Temperature.ptr(),
		TemperatureValid: raw.TemperatureValid,
		Humidity:         fraction(raw.Humidity.ptr()),
		HumidityValid:    raw.HumidityValid,
		BatteryLevel:     fraction(raw.BatteryLevel.ptr()),
		Weight:           raw.Weight,
		Connected:        raw.Connected,
		Active:           raw.Active,
	}
}

// preferredTemperature picks a room sensor's reading over the thermostat's
// built-in one whenever the sensor reports its value as valid; the remote
// sensor is the more accurate source.
func preferredTemperature(sensors map[int64]*Sensor, builtin *float64) *float64 {
	for _, id := range sortedSensorIDs(sensors) {
		s := sensors[id]
		if s.Active && s.TemperatureValid && s.Temperature != nil {
			return s.Temperature
		}
	}
	return builtin
}

func sortedSensorIDs(sensors map[int64]*Sensor) []int64 {
	ids := make([]int64, 0, len(sensors))
	for id := range sensors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// findLabel searches a label/value list by label text; label sets vary by
// device revision so position is meaningless.
func findLabel(items []labelValue, label string) string {
	for _, item := range items {
		if item.Label == label {
			return item.Value
		}
	}
	return ""
}

// fraction maps a percentage-valued field to a 0..1 fraction. Absent fields
// stay absent: zero is a valid reading.
func fraction(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v / 100
	return &f
}

// decodeFeatures accepts either shape: a keyed object (canonical) or an
// array of named blocks (legacy). The discriminator is computed once, from
// the first non-space byte.
func decodeFeatures(raw json.RawMessage) (map[string]featureBlock, error) {
	switch firstByte(raw) {
	case 0:
		return map[string]featureBlock{}, nil

	case '[':
		var blocks []featureBlock
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return nil, apierr.Wrap(apierr.KindParse, err, "decoding feature array")
		}
		features := make(map[string]featureBlock, len(blocks))
		for _, block := range blocks {
			features[block.Name] = block
		}
		return features, nil

	default:
		var features map[string]featureBlock
		if err := json.Unmarshal(raw, &features); err != nil {
			return nil, apierr.Wrap(apierr.KindParse, err, "decoding feature object")
		}
		for name, block := range features {
			block.Name = name
			features[name] = block
		}
		return features, nil
	}
}

func decodeSettings(raw json.RawMessage) (map[string]settingBlock, error) {
	switch firstByte(raw) {
	case 0:
		return map[string]settingBlock{}, nil

	case '[':
		var blocks []settingBlock
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return nil, apierr.Wrap(apierr.KindParse, err, "decoding setting array")
		}
		settings := make(map[string]settingBlock, len(blocks))
		for _, block := range blocks {
			settings[block.Type] = block
		}
		return settings, nil

	default:
		var settings map[string]settingBlock
		if err := json.Unmarshal(raw, &settings); err != nil {
			return nil, apierr.Wrap(apierr.KindParse, err, "decoding setting object")
		}
		for typ, block := range settings {
			block.Type = typ
			settings[typ] = block
		}
		return settings, nil
	}
}

func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0
	}
	return trimmed[0]
}
