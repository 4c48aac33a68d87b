package nexia

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"gonexia/internal/pkg/apierr"
	"gonexia/internal/pkg/devices"
	"gonexia/internal/pkg/logging"
	"gonexia/internal/pkg/transport"
)

// Command bodies are small JSON objects naming the single field being
// changed. Every write is followed by a settle delay and a forced refresh:
// the vendor does not guarantee the write is visible in the next read.

// SetFanMode changes a thermostat's fan mode.
func (h *Home) SetFanMode(ctx context.Context, t *devices.Thermostat, mode string) error {
	if err := validateOption("fan_mode", mode, t.FanModes); err != nil {
		return err
	}

	endpoint := h.thermostatEndpoint(t, "fan_mode")
	return h.dispatch(ctx, endpoint, map[string]interface{}{"fan_mode": mode})
}

// SetAirCleanerMode changes a thermostat's air cleaner mode.
func (h *Home) SetAirCleanerMode(ctx context.Context, t *devices.Thermostat, mode string) error {
	if !t.HasAirCleaner {
		return apierr.New(apierr.KindFeatureNotSupported, "thermostat %d has no air cleaner", t.ID)
	}

	endpoint := h.thermostatEndpoint(t, "air_cleaner_mode")
	return h.dispatch(ctx, endpoint, map[string]interface{}{"air_cleaner_mode": mode})
}

// SetHumidifySetpoint changes the humidification target, a 0..1 fraction.
func (h *Home) SetHumidifySetpoint(ctx context.Context, t *devices.Thermostat, target float64) error {
	if !t.HasHumidify {
		return apierr.New(apierr.KindFeatureNotSupported, "thermostat %d cannot humidify", t.ID)
	}
	if err := validateRange("humidify", target, 0.10, 0.65); err != nil {
		return err
	}

	endpoint := h.thermostatEndpoint(t, "humidify")
	return h.dispatch(ctx, endpoint, map[string]interface{}{"humidify": target})
}

// SetDehumidifySetpoint changes the dehumidification target, a 0..1 fraction.
func (h *Home) SetDehumidifySetpoint(ctx context.Context, t *devices.Thermostat, target float64) error {
	if !t.HasDehumidify {
		return apierr.New(apierr.KindFeatureNotSupported, "thermostat %d cannot dehumidify", t.ID)
	}
	if err := validateRange("dehumidify", target, 0.35, 0.65); err != nil {
		return err
	}

	endpoint := h.thermostatEndpoint(t, "dehumidify")
	return h.dispatch(ctx, endpoint, map[string]interface{}{"dehumidify": target})
}

// SetZoneMode changes a zone's operating mode.
func (h *Home) SetZoneMode(ctx context.Context, z *devices.Zone, mode string) error {
	if err := validateOption("zone_mode", mode, z.Modes); err != nil {
		return err
	}

	endpoint := h.zoneEndpoint(z, "zone_mode")
	return h.dispatch(ctx, endpoint, map[string]interface{}{"zone_mode": mode})
}

// SetZonePreset selects a zone preset.
func (h *Home) SetZonePreset(ctx context.Context, z *devices.Zone, preset string) error {
	if err := validateOption("preset_selected", preset, z.Presets); err != nil {
		return err
	}

	endpoint := h.zoneEndpoint(z, "preset_selected")
	return h.dispatch(ctx, endpoint, map[string]interface{}{"preset_selected": preset})
}

// SetZoneSetpoints changes a zone's heating and/or cooling setpoints in the
// thermostat's native unit. Values are snapped to the vendor's resolution,
// and the pair must respect the thermostat's deadband.
func (h *Home) SetZoneSetpoints(ctx context.Context, z *devices.Zone, heat, cool *float64) error {
	if heat == nil && cool == nil {
		return apierr.New(apierr.KindValidation, "at least one setpoint is required")
	}

	unit := z.Unit()
	body := map[string]interface{}{}
	if heat != nil {
		*heat = devices.RoundTemperature(*heat, unit)
		body["heating_setpoint"] = *heat
	}
	if cool != nil {
		*cool = devices.RoundTemperature(*cool, unit)
		body["cooling_setpoint"] = *cool
	}

	if heat != nil && cool != nil && *cool-*heat < z.Deadband() {
		return &apierr.Error{
			Kind:    apierr.KindValidation,
			Message: fmt.Sprintf("setpoints closer than the %g degree deadband", z.Deadband()),
			Field:   "cooling_setpoint",
			Value:   *cool,
		}
	}

	endpoint := h.zoneEndpoint(z, "setpoints")
	return h.dispatch(ctx, endpoint, body)
}

// SelectRoomIQSensors changes the zone's active sensor set and then polls
// until the device reports the requested set, or the attempt budget runs
// out. Exhausting the budget only logs a warning: the selection call itself
// already succeeded.
func (h *Home) SelectRoomIQSensors(ctx context.Context, z *devices.Zone, sensorIDs []int64) error {
	if len(sensorIDs) == 0 {
		return apierr.New(apierr.KindValidation, "at least one sensor is required")
	}
	for _, id := range sensorIDs {
		if _, ok := z.Sensors[id]; !ok {
			return &apierr.Error{
				Kind:    apierr.KindValidation,
				Message: "sensor is not attached to this zone",
				Field:   "sensor_ids",
				Value:   id,
			}
		}
	}

	endpoint := h.zoneEndpoint(z, "room_iq_sensors")
	_, err := h.withSessionRetry(ctx, func() (*transport.Response, error) {
		return h.tr.Do(ctx, http.MethodPost, endpoint, map[string]interface{}{"sensor_ids": sensorIDs}, h.sess.Credentials())
	})
	if err != nil {
		return err
	}

	h.awaitSensorSelection(ctx, z.ID, sensorIDs)
	return nil
}

// ActivateAutomation runs an account automation.
func (h *Home) ActivateAutomation(ctx context.Context, a *devices.Automation) error {
	endpoint := fmt.Sprintf("%s/automations/%d/activate", h.cfg.BaseURL, a.ID)
	return h.dispatch(ctx, endpoint, nil)
}

// dispatch issues a write through the session-expiry recovery wrapper, then
// waits out the settle delay and forces a refresh.
func (h *Home) dispatch(ctx context.Context, endpoint string, body interface{}) error {
	logging.Logger(ctx).Debugf("dispatching command to %s", endpoint)

	_, err := h.withSessionRetry(ctx, func() (*transport.Response, error) {
		return h.tr.Do(ctx, http.MethodPost, endpoint, body, h.sess.Credentials())
	})
	if err != nil {
		return err
	}

	if err := h.sleep(ctx, h.cfg.SettleDelay); err != nil {
		return err
	}
	return h.Update(ctx, true)
}

// awaitSensorSelection polls the zone's active-sensor set until it matches
// the requested one.
func (h *Home) awaitSensorSelection(ctx context.Context, zoneID string, want []int64) {
	for attempt := 1; attempt <= h.cfg.PollAttempts; attempt++ {
		if err := h.sleep(ctx, h.cfg.PollInterval); err != nil {
			return
		}
		if err := h.Update(ctx, true); err != nil {
			logging.Logger(ctx).WithError(err).Debug("refresh during sensor poll failed")
			continue
		}

		zone, err := h.findZone(zoneID)
		if err != nil {
			continue
		}
		if sameIDSet(zone.ActiveSensorIDs(), want) {
			logging.Logger(ctx).Debugf("sensor selection confirmed after %d polls", attempt)
			return
		}
	}

	logging.Logger(ctx).Warnf("sensor selection for zone %s not confirmed after %d polls", zoneID, h.cfg.PollAttempts)
}

// thermostatEndpoint prefers the self link from the last-fetched payload,
// falling back to a path constructed from the device id.
func (h *Home) thermostatEndpoint(t *devices.Thermostat, op string) string {
	if t.SelfLink != "" {
		return t.SelfLink + "/" + op
	}
	return fmt.Sprintf("%s/xxl_thermostats/%d/%s", h.cfg.BaseURL, t.ID, op)
}

func (h *Home) zoneEndpoint(z *devices.Zone, op string) string {
	if z.SelfLink != "" {
		return z.SelfLink + "/" + op
	}
	return fmt.Sprintf("%s/xxl_zones/%s/%s", h.cfg.BaseURL, z.ID, op)
}

// sleep waits for d, aborting early when either the caller's context or the
// home itself is closed.
func (h *Home) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return apierr.Wrap(apierr.KindNetwork, ctx.Err(), "cancelled while settling")
	case <-h.ctx.Done():
		return apierr.New(apierr.KindNetwork, "home closed while settling")
	case <-timer.C:
		return nil
	}
}

func validateOption(field, value string, options []string) error {
	if len(options) == 0 {
		return nil
	}
	for _, opt := range options {
		if opt == value {
			return nil
		}
	}
	return &apierr.Error{
		Kind:    apierr.KindValidation,
		Message: fmt.Sprintf("value not in %v", options),
		Field:   field,
		Value:   value,
	}
}

func validateRange(field string, value, min, max float64) error {
	if value < min || value > max {
		return &apierr.Error{
			Kind:    apierr.KindValidation,
			Message: fmt.Sprintf("value outside %g..%g", min, max),
			Field:   field,
			Value:   value,
		}
	}
	return nil
}

func sameIDSet(got, want []int64) bool {
	if len(got) != len(want) {
		return false
	}
	set := make(map[int64]struct{}, len(want))
	for _, id := range want {
		set[id] = struct{}{}
	}
	for _, id := range got {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
