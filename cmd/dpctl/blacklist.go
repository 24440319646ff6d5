package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var blacklistCmd = &cobra.Command{
	Use:   "blacklist",
	Short: "Inspect or edit the source blacklist",
}

var blacklistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List blacklisted sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			IPs []string `json:"ips"`
		}
		if err := getJSON("/admin/blacklist", &resp); err != nil {
			return err
		}
		if len(resp.IPs) == 0 {
			fmt.Println("blacklist is empty")
			return nil
		}
		for _, ip := range resp.IPs {
			fmt.Println(ip)
		}
		return nil
	},
}

var blacklistAddCmd = &cobra.Command{
	Use:   "add <ip>...",
	Short: "Blacklist one or more source addresses",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editBlacklist("add", args)
	},
}

var blacklistRemoveCmd = &cobra.Command{
	Use:   "remove <ip>...",
	Short: "Remove source addresses from the blacklist",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editBlacklist("remove", args)
	},
}

func editBlacklist(action string, ips []string) error {
	req := map[string]any{"action": action, "ips": ips}
	if err := postJSON("/admin/blacklist", req, nil); err != nil {
		return err
	}
	fmt.Printf("%s: %d address(es)\n", action, len(ips))
	return nil
}

func init() {
	blacklistCmd.AddCommand(blacklistListCmd)
	blacklistCmd.AddCommand(blacklistAddCmd)
	blacklistCmd.AddCommand(blacklistRemoveCmd)
}
