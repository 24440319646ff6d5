package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetRatesCmd = &cobra.Command{
	Use:   "reset-rates",
	Short: "Clear the per-source packet counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Cleared int `json:"cleared"`
		}
		if err := postJSON("/admin/ratelimit/reset", map[string]any{}, &resp); err != nil {
			return err
		}
		fmt.Printf("cleared %d source counter(s)\n", resp.Cleared)
		return nil
	},
}

var (
	acceptCPS   float64
	acceptBurst int
	acceptOff   bool
)

var acceptRateCmd = &cobra.Command{
	Use:   "accept-rate",
	Short: "Tune connection-level backpressure",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{}
		if acceptOff {
			req["enabled"] = false
		} else {
			req["enabled"] = true
			if cmd.Flags().Changed("cps") {
				req["connections_per_second"] = acceptCPS
			}
			if cmd.Flags().Changed("burst") {
				req["burst"] = acceptBurst
			}
		}
		if err := postJSON("/admin/accept-rate", req, nil); err != nil {
			return err
		}
		if acceptOff {
			fmt.Println("accept rate limiting disabled")
		} else {
			fmt.Println("accept rate updated")
		}
		return nil
	},
}

func init() {
	acceptRateCmd.Flags().Float64Var(&acceptCPS, "cps", 0, "Connections accepted per second")
	acceptRateCmd.Flags().IntVar(&acceptBurst, "burst", 0, "Burst allowance on top of the steady rate")
	acceptRateCmd.Flags().BoolVar(&acceptOff, "disable", false, "Turn accept rate limiting off")
}
