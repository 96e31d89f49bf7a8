package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vperret/gridpilot/app"
	"github.com/vperret/gridpilot/config"
)

// tickCmd runs a single scheduling pass and exits. Useful when debugging a
// plan on a live hub without starting the loop.
var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduling pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		svc, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		plans := svc.Events().Plan.Subscribe()
		defer svc.Events().Plan.Unsubscribe(plans)

		if !svc.TickOnce(ctx) {
			return fmt.Errorf("tick did not run")
		}
		select {
		case p := <-plans:
			fmt.Printf("plan: mode=%s windows=%d required=%.2fkWh grid=%v critical=%v\n",
				p.WorkMode, p.Windows, p.RequiredKWh, p.UseGrid, p.Critical)
		default:
			fmt.Println("no plan produced")
		}
		return nil
	},
}

// validateCmd loads and validates the configuration without contacting
// anything.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		fmt.Printf("configuration ok: %d inverters, %d tariff windows\n",
			len(cfg.Inverters), len(cfg.Scheduler.Tariffs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(validateCmd)
}
