package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/gopacket/gopacket/pcapgo"
	"github.com/spf13/cobra"

	"github.com/SkynetNext/gateway-dataplane/internal/filter"
)

var replayBlocked []string

var replayCmd = &cobra.Command{
	Use:   "replay <capture.pcap>",
	Short: "Run a pcap capture through a local filter pipeline",
	Long:  "Replay feeds every frame of a capture to a fresh copy of the ingress filter and reports the verdicts. Nothing is sent to a running dataplane; use it to preview what a traffic sample would trigger.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		sum, err := runReplay(f, replayBlocked)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "frames\t%d\n", sum.Frames)
		fmt.Fprintf(w, "passed\t%d\n", sum.Frames-sum.Dropped)
		fmt.Fprintf(w, "dropped\t%d\n", sum.Dropped)
		fmt.Fprintf(w, "dropped_blacklist\t%d\n", sum.Stats.DroppedBlacklist)
		fmt.Fprintf(w, "dropped_ratelimit\t%d\n", sum.Stats.DroppedRateLimit)
		fmt.Fprintf(w, "dropped_invalid\t%d\n", sum.Stats.DroppedInvalid)
		fmt.Fprintf(w, "tcp_syn\t%d\n", sum.Stats.TCPSyn)
		fmt.Fprintf(w, "tcp_syn_flood\t%d\n", sum.Stats.TCPSynFlood)
		return w.Flush()
	},
}

type replaySummary struct {
	Frames  int
	Dropped int
	Stats   filter.Stats
}

// runReplay walks a pcap stream through a standalone filter pipeline.
// blocked sources are blacklisted before the first frame.
func runReplay(r io.Reader, blocked []string) (*replaySummary, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}

	tables := filter.NewTables()
	mgr := filter.NewManager(tables, 0, nil, nil)
	for _, ip := range blocked {
		if err := mgr.AddBlacklist(ip, "replay"); err != nil {
			return nil, err
		}
	}
	eng := filter.NewEngine(tables)

	sum := &replaySummary{}
	for {
		data, _, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %d: %w", sum.Frames+1, err)
		}
		sum.Frames++
		if eng.Decide(data) == filter.VerdictDrop {
			sum.Dropped++
		}
	}
	sum.Stats = tables.StatsSnapshot()
	return sum, nil
}

func init() {
	replayCmd.Flags().StringSliceVar(&replayBlocked, "block", nil, "Sources to blacklist before the replay")
}
