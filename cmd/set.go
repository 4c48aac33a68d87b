package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"gonexia/internal/pkg/devices"
	"gonexia/internal/pkg/nexia"
)

var _setCmdOpts struct {
	thermostatID int64
	zoneID       string
	heat         float64
	cool         float64
}

var setCmd *cobra.Command

var setCmdDef = &cobra.Command{
	Use:   "set <operation> [value]",
	Short: "Issue a control command to a thermostat or zone",
	Long: `Operations:
  fan-mode <mode>          --thermostat required
  air-cleaner <mode>       --thermostat required
  humidify <fraction>      --thermostat required
  dehumidify <fraction>    --thermostat required
  zone-mode <mode>         --zone required
  preset <name>            --zone required
  setpoints                --zone plus --heat and/or --cool
  sensors <id,id,...>      --zone required
  automation <id>          activates the automation`,
	Args: cobra.RangeArgs(1, 2),

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doSet(args); err != nil {
			return err
		}

		return nil
	},

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("nexia.login", "nexia.password")
	},
}

func init() {
	setCmd = setCmdDef
	setCmd.Flags().Int64Var(&_setCmdOpts.thermostatID, "thermostat", 0, "target thermostat ID")
	setCmd.Flags().StringVar(&_setCmdOpts.zoneID, "zone", "", "target zone ID")
	setCmd.Flags().Float64Var(&_setCmdOpts.heat, "heat", 0, "heating setpoint")
	setCmd.Flags().Float64Var(&_setCmdOpts.cool, "cool", 0, "cooling setpoint")

	rootCmd.AddCommand(setCmd)
}

func doSet(args []string) error {
	h := newHome()
	defer h.Close()

	ctx := context.Background()
	if err := h.Update(ctx, false); err != nil {
		return err
	}

	op := args[0]
	value := ""
	if len(args) > 1 {
		value = args[1]
	}

	switch op {
	case "fan-mode":
		t, err := targetThermostat(h)
		if err != nil {
			return err
		}
		return h.SetFanMode(ctx, t, value)

	case "air-cleaner":
		t, err := targetThermostat(h)
		if err != nil {
			return err
		}
		return h.SetAirCleanerMode(ctx, t, value)

	case "humidify":
		t, err := targetThermostat(h)
		if err != nil {
			return err
		}
		target, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("bad humidify target [%s]", value)
		}
		return h.SetHumidifySetpoint(ctx, t, target)

	case "dehumidify":
		t, err := targetThermostat(h)
		if err != nil {
			return err
		}
		target, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("bad dehumidify target [%s]", value)
		}
		return h.SetDehumidifySetpoint(ctx, t, target)

	case "zone-mode":
		z, err := targetZone(h)
		if err != nil {
			return err
		}
		return h.SetZoneMode(ctx, z, value)

	case "preset":
		z, err := targetZone(h)
		if err != nil {
			return err
		}
		return h.SetZonePreset(ctx, z, value)

	case "setpoints":
		z, err := targetZone(h)
		if err != nil {
			return err
		}
		var heat, cool *float64
		if flagChanged(setCmd, "heat") {
			heat = &_setCmdOpts.heat
		}
		if flagChanged(setCmd, "cool") {
			cool = &_setCmdOpts.cool
		}
		return h.SetZoneSetpoints(ctx, z, heat, cool)

	case "sensors":
		z, err := targetZone(h)
		if err != nil {
			return err
		}
		ids, err := parseIDList(value)
		if err != nil {
			return err
		}
		return h.SelectRoomIQSensors(ctx, z, ids)

	case "automation":
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("bad automation id [%s]", value)
		}
		a, err := h.Automation(id)
		if err != nil {
			return err
		}
		return h.ActivateAutomation(ctx, a)
	}

	return fmt.Errorf("unknown operation [%s]", op)
}

func targetThermostat(h *nexia.Home) (*devices.Thermostat, error) {
	if _setCmdOpts.thermostatID == 0 {
		list := h.Thermostats()
		if len(list) == 1 {
			return list[0], nil
		}
		return nil, fmt.Errorf("--thermostat is required when the house has %d thermostats", len(list))
	}

	return h.Thermostat(_setCmdOpts.thermostatID)
}

func targetZone(h *nexia.Home) (*devices.Zone, error) {
	if _setCmdOpts.zoneID == "" {
		return nil, fmt.Errorf("--zone is required for this operation")
	}

	for _, t := range h.Thermostats() {
		if z := t.Zone(_setCmdOpts.zoneID); z != nil {
			return z, nil
		}
	}

	return nil, fmt.Errorf("no zone with id %s", _setCmdOpts.zoneID)
}

func parseIDList(value string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad sensor id [%s]", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func flagChanged(cmd *cobra.Command, name string) bool {
	flag := cmd.Flags().Lookup(name)
	return flag != nil && flag.Changed
}
