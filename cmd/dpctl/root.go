package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var adminAddr string

var rootCmd = &cobra.Command{
	Use:           "dpctl",
	Short:         "Control a running gateway dataplane",
	Long:          "dpctl drives the dataplane admin API: blacklist, rate counters, socket pairings, and live stats. It also replays pcap captures through a local copy of the filter pipeline.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminAddr, "addr", "http://127.0.0.1:9090", "Admin API base address")
	rootCmd.AddCommand(blacklistCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(pairsCmd)
	rootCmd.AddCommand(resetRatesCmd)
	rootCmd.AddCommand(acceptRateCmd)
	rootCmd.AddCommand(replayCmd)
}

func Execute() error {
	return rootCmd.Execute()
}

var client = &http.Client{Timeout: 5 * time.Second}

func adminURL(path string) string {
	base := strings.TrimRight(adminAddr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return base + path
}

func getJSON(path string, out any) error {
	resp, err := client.Get(adminURL(path))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func postJSON(path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := client.Post(adminURL(path), "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("admin API: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
