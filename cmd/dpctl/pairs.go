package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"
)

// pairKey mirrors the admin API wire form of a connection key.
type pairKey struct {
	SrcIP   string `json:"src_ip"`
	SrcPort uint16 `json:"src_port"`
	DstIP   string `json:"dst_ip"`
	DstPort uint16 `json:"dst_port"`
}

func (k pairKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d", k.SrcIP, k.SrcPort, k.DstIP, k.DstPort)
}

// parsePairKey builds a key from "src-ip:port" and "dst-ip:port".
func parsePairKey(src, dst string) (pairKey, error) {
	var k pairKey
	var err error
	if k.SrcIP, k.SrcPort, err = splitEndpoint(src); err != nil {
		return k, err
	}
	if k.DstIP, k.DstPort, err = splitEndpoint(dst); err != nil {
		return k, err
	}
	return k, nil
}

func splitEndpoint(s string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, fmt.Errorf("invalid endpoint %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	return host, uint16(port), nil
}

var pairsCmd = &cobra.Command{
	Use:   "pairs",
	Short: "Inspect or edit socket pairings",
}

var pairsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed pairings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Pairs []struct {
				Key  pairKey `json:"key"`
				Peer pairKey `json:"peer"`
			} `json:"pairs"`
		}
		if err := getJSON("/admin/pairs", &resp); err != nil {
			return err
		}
		if len(resp.Pairs) == 0 {
			fmt.Println("no pairings installed")
			return nil
		}
		for _, p := range resp.Pairs {
			fmt.Printf("%s  <->  %s\n", p.Key, p.Peer)
		}
		return nil
	},
}

var pairsInstallCmd = &cobra.Command{
	Use:   "install <a-src> <a-dst> <b-src> <b-dst>",
	Short: "Install a pairing between two connection keys",
	Long:  "Install a pairing between two connection keys. Each endpoint is an ip:port; keys are given remote-then-local, matching the socket registry orientation.",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editPair("install", args)
	},
}

var pairsRemoveCmd = &cobra.Command{
	Use:   "remove <a-src> <a-dst> <b-src> <b-dst>",
	Short: "Remove a pairing",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editPair("remove", args)
	},
}

func editPair(action string, args []string) error {
	a, err := parsePairKey(args[0], args[1])
	if err != nil {
		return err
	}
	b, err := parsePairKey(args[2], args[3])
	if err != nil {
		return err
	}
	req := map[string]any{"action": action, "a": a, "b": b}
	if err := postJSON("/admin/pairs", req, nil); err != nil {
		return err
	}
	fmt.Printf("%s: %s <-> %s\n", action, a, b)
	return nil
}

func init() {
	pairsCmd.AddCommand(pairsListCmd)
	pairsCmd.AddCommand(pairsInstallCmd)
	pairsCmd.AddCommand(pairsRemoveCmd)
}
