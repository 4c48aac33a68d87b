package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gonexia/internal/pkg/devices"
)

var _statusCmdOpts struct {
	asJSON bool
	force  bool
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Fetch and display the state of every thermostat on the account",

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doStatus(); err != nil {
			return err
		}

		return nil
	},

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("nexia.login", "nexia.password")
	},
}

func init() {
	statusCmd.Flags().BoolVar(&_statusCmdOpts.asJSON, "json", false, "Return status as JSON")
	statusCmd.Flags().BoolVar(&_statusCmdOpts.force, "force", false, "Bypass the conditional-GET cache")

	errPanic(viper.GetViper().BindPFlag("status.json", statusCmd.Flags().Lookup("json")))
	errPanic(viper.GetViper().BindPFlag("status.force", statusCmd.Flags().Lookup("force")))

	rootCmd.AddCommand(statusCmd)
}

type statusView struct {
	HouseID     int64                 `json:"house_id"`
	HouseName   string                `json:"house_name"`
	Thermostats []*devices.Thermostat `json:"thermostats"`
	Automations []*devices.Automation `json:"automations"`
}

func doStatus() error {
	h := newHome()
	defer h.Close()

	ctx := context.Background()
	if err := h.Update(ctx, viper.GetBool("status.force")); err != nil {
		return err
	}

	if viper.GetBool("status.json") {
		view := statusView{
			HouseID:     h.House().ID,
			HouseName:   h.House().Name,
			Thermostats: h.Thermostats(),
			Automations: h.Automations(),
		}

		b, err := json.MarshalIndent(view, "", "    ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	}

	fmt.Printf("House %d (%s)\n", h.House().ID, h.House().Name)
	for _, t := range h.Thermostats() {
		fmt.Printf("  %s [%d]  model=%s firmware=%s fan=%s %s\n",
			t.Name, t.ID, t.Model, t.Firmware, t.FanMode, formatFraction("humidity", t.RelativeHumidity))

		for _, id := range t.ZoneIDs() {
			z := t.Zone(id)
			fmt.Printf("    zone %s (%s)  mode=%s %s heat=%s cool=%s\n",
				z.ID, z.Name, z.Mode,
				formatTemp("temp", z.CurrentTemperature, t.Unit),
				formatSetpoint(z.HeatingSetpoint), formatSetpoint(z.CoolingSetpoint))

			for _, s := range z.Sensors {
				marker := " "
				if s.Active {
					marker = "*"
				}
				fmt.Printf("      %s sensor %d (%s) %s\n", marker, s.ID, s.Name, formatTemp("temp", s.Temperature, t.Unit))
			}
		}
	}

	for _, a := range h.Automations() {
		state := "disabled"
		if a.Enabled {
			state = "enabled"
		}
		fmt.Printf("  automation %d (%s) %s\n", a.ID, a.Name, state)
	}

	return nil
}

func formatTemp(label string, v *float64, unit devices.Unit) string {
	if v == nil {
		return label + "=?"
	}
	return fmt.Sprintf("%s=%.1f%s", label, *v, unit)
}

func formatSetpoint(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}

func formatFraction(label string, v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%s=%.0f%%", label, *v*100)
}
