package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lvonguyen/fortress/internal/heuristics"
	"github.com/lvonguyen/fortress/internal/scoring"
)

var (
	skipReputation bool
	wifiManual     scoring.WiFiReport
)

var scanURLCmd = &cobra.Command{
	Use:   "scan-url <url>",
	Short: "Score a URL locally and against the reputation sources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		assessment := heuristics.ScoreURL(args[0])
		if skipReputation {
			return printJSON(cmd, assessment)
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			report, cached := a.enricher.Report(ctx, args[0])
			return printJSON(cmd, struct {
				Assessment heuristics.URLAssessment `json:"assessment"`
				Reputation scoring.URLReport        `json:"reputation"`
				Cached     bool                     `json:"cached"`
			}{assessment, report, cached})
		})
	},
}

var checkTextCmd = &cobra.Command{
	Use:   "check-text <text>...",
	Short: "Score a message for fraud and check the URLs it contains",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return printJSON(cmd, a.enricher.Assess(ctx, text))
		})
	},
}

var wifiCmd = &cobra.Command{
	Use:   "wifi",
	Short: "Assess the current network, or a described one with --encryption",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("encryption") {
			return printJSON(cmd, scoring.AnalyzeWiFi(wifiManual))
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return printJSON(cmd, a.scanner.Scan(ctx))
		})
	},
}

func init() {
	scanURLCmd.Flags().BoolVar(&skipReputation, "local", false, "Only run the local URL heuristics")

	f := wifiCmd.Flags()
	f.StringVar(&wifiManual.SSID, "ssid", "", "Network name")
	f.StringVar(&wifiManual.Encryption, "encryption", "", "Encryption (Open, WEP, WPA, WPA2, WPA3)")
	f.StringVar(&wifiManual.DNS, "dns", "", "Resolver address in use")
	f.StringVar(&wifiManual.Certificate, "certificate", "", "Certificate check result (valid, invalid, self-signed)")
	f.StringVar(&wifiManual.Activity, "activity", "", "Planned activity (bank_login, payment, crypto, browsing)")
	f.StringVar(&wifiManual.CaptivePortal.Text, "captive-portal", "", "Captive portal state (detected, none)")
	f.StringVar(&wifiManual.HTTPTest.Text, "http-test", "", "Plain HTTP test result (secure, insecure)")
}

func withApp(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
