package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/SkynetNext/gateway-dataplane/internal/filter"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pipeline counters and table occupancy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Filter    filter.Stats `json:"filter"`
			Blacklist int          `json:"blacklist_entries"`
			Sockets   int          `json:"sockets"`
			Pairs     int          `json:"pairs"`
			Sessions  int          `json:"sessions"`
			Draining  bool         `json:"draining"`
			Kernel    []uint64     `json:"kernel"`
		}
		if err := getJSON("/admin/stats", &resp); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "total_packets\t%d\n", resp.Filter.TotalPackets)
		fmt.Fprintf(w, "passed\t%d\n", resp.Filter.Passed)
		fmt.Fprintf(w, "dropped_blacklist\t%d\n", resp.Filter.DroppedBlacklist)
		fmt.Fprintf(w, "dropped_ratelimit\t%d\n", resp.Filter.DroppedRateLimit)
		fmt.Fprintf(w, "dropped_invalid\t%d\n", resp.Filter.DroppedInvalid)
		fmt.Fprintf(w, "tcp_syn\t%d\n", resp.Filter.TCPSyn)
		fmt.Fprintf(w, "tcp_syn_flood\t%d\n", resp.Filter.TCPSynFlood)
		fmt.Fprintf(w, "blacklist_entries\t%d\n", resp.Blacklist)
		fmt.Fprintf(w, "sockets\t%d\n", resp.Sockets)
		fmt.Fprintf(w, "pairs\t%d\n", resp.Pairs)
		fmt.Fprintf(w, "sessions\t%d\n", resp.Sessions)
		fmt.Fprintf(w, "draining\t%v\n", resp.Draining)
		if len(resp.Kernel) > 0 {
			for i, s := range filter.AllStats {
				if i < len(resp.Kernel) {
					fmt.Fprintf(w, "kernel.%s\t%d\n", s, resp.Kernel[i])
				}
			}
		}
		return w.Flush()
	},
}
