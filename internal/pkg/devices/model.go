package devices

import "sort"

// Canonical, read-mostly snapshots of the vendor device tree. Snapshots are
// replaced wholesale on each refresh, never mutated field by field, so a
// reader mid-refresh never observes a torn state.

// Thermostat is one physical thermostat and its zones.
type Thermostat struct {
	ID       int64
	Name     string
	Model    string
	Firmware string

	Unit     Unit
	Deadband float64 // minimum heat/cool setpoint separation, native unit

	Connected bool
	Status    string
	FanMode   string
	FanModes  []string

	OutdoorTemperature *float64
	RelativeHumidity   *float64 // 0..1 fraction
	HumidifySetpoint   *float64 // 0..1 fraction
	DehumidifySetpoint *float64 // 0..1 fraction

	HasHumidify    bool
	HasDehumidify  bool
	HasAirCleaner  bool
	AirCleanerMode string

	SelfLink string

	Zones map[string]*Zone
}

// Zone is an independently controllable temperature region. It holds a
// non-owning back reference to its parent thermostat for shared settings.
type Zone struct {
	ID   string
	Name string

	Mode    string
	Modes   []string
	Preset  string
	Presets []string
	Status  string

	CurrentTemperature *float64
	HeatingSetpoint    *float64
	CoolingSetpoint    *float64

	SelfLink string

	Sensors map[int64]*Sensor

	Thermostat *Thermostat `json:"-"`
}

// Sensor is a remote RoomIQ temperature/humidity sensor attached to a zone.
type Sensor struct {
	ID   int64
	Name string
	Type string

	Temperature      *float64
	TemperatureValid bool
	Humidity         *float64 // 0..1 fraction
	HumidityValid    bool

	BatteryLevel *float64 // 0..1 fraction
	Weight       float64
	Connected    bool

	// Active marks the sensor as part of the zone's current averaging set.
	Active bool
}

// Automation is an account-level scene, independent of the device hierarchy.
type Automation struct {
	ID          int64
	Name        string
	Description string
	Enabled     bool
}

// ZoneIDs returns the thermostat's zone ids in stable order.
func (t *Thermostat) ZoneIDs() []string {
	ids := make([]string, 0, len(t.Zones))
	for id := range t.Zones {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Zone returns the zone with the given id, or nil.
func (t *Thermostat) Zone(id string) *Zone {
	return t.Zones[id]
}

// Unit is inherited from the owning thermostat.
func (z *Zone) Unit() Unit {
	if z.Thermostat == nil {
		return Fahrenheit
	}
	return z.Thermostat.Unit
}

// Deadband is inherited from the owning thermostat.
func (z *Zone) Deadband() float64 {
	if z.Thermostat == nil {
		return 0
	}
	return z.Thermostat.Deadband
}

// ActiveSensorIDs returns the ids of sensors in the zone's averaging set,
// in stable order.
func (z *Zone) ActiveSensorIDs() []int64 {
	var ids []int64
	for id, s := range z.Sensors {
		if s.Active {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
