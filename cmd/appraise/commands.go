package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/appraise/internal/api"
	"github.com/kalambet/appraise/internal/config"
	"github.com/kalambet/appraise/internal/dashboard"
	"github.com/kalambet/appraise/internal/projector"
	"github.com/kalambet/appraise/internal/realtime"
	"github.com/kalambet/appraise/internal/report"
	"github.com/kalambet/appraise/internal/session"
)

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>",
	Short: "Upload an appraisal PDF and start its analysis",
	Long: `Upload an appraisal PDF and start its analysis.

Examples:
  appraise upload ./appraisal.pdf --full-name "Jane Doe" --expected-value '$450,000'
  appraise upload ./appraisal.pdf --user u-1 --full-name "Jane Doe" --expected-value 450000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fullName, _ := cmd.Flags().GetString("full-name")
		expected, _ := cmd.Flags().GetString("expected-value")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Uploading %s (%d bytes)", filepath.Base(args[0]), len(data))
		resp, err := client.postFile(cmd.Context(), "/v1/reports", map[string]string{
			"fullName":      fullName,
			"expectedValue": expected,
		}, filepath.Base(args[0]), data)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s", result["message"])
		printStatus("Report", "%s", result["fileId"])
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("full-name", "", "your full name as it appears on the appraisal")
	uploadCmd.Flags().String("expected-value", "", "the value you expected the property to appraise at")
}

// --- reports ---

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List your reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/reports")
		if err != nil {
			return err
		}

		var reports []report.Report
		if err := decodeJSON(resp, &reports); err != nil {
			return err
		}

		if len(reports) == 0 {
			printWarning("No reports yet. Upload one with: appraise upload <file.pdf>")
			return nil
		}

		for i, r := range reports {
			ts := r.Timestamp.Local().Format("2006-01-02 15:04")
			fmt.Printf("  [%d] %s  %s  %s  %s\n", i+1, r.ID, ts, colorize(colorBold, r.Name), r.Status)
		}
		return nil
	},
}

// --- stages ---

var stagesCmd = &cobra.Command{
	Use:   "stages <report-id>",
	Short: "Show the analysis stages of a report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/reports/"+url.PathEscape(args[0])+"/stages")
		if err != nil {
			return err
		}

		var stages api.StagesResponse
		if err := decodeJSON(resp, &stages); err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stages)
		}
		printStages(os.Stdout, stages)
		return nil
	},
}

func init() {
	stagesCmd.Flags().Bool("json", false, "print the projection as JSON")
}

func printStages(w io.Writer, s api.StagesResponse) {
	fmt.Fprintf(w, "%s  %d%%\n", colorize(colorBold, s.ReportID), s.Percent)
	for _, st := range s.Stages {
		fmt.Fprintf(w, "  %s  [%s]\n", paint(st.Color, st.Title), st.Status)
		for _, line := range st.Output {
			fmt.Fprintf(w, "      %s\n", line)
		}
	}
}

// --- watch ---

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of your reports and their analysis stages",
	Long: `Live dashboard of your reports and their analysis stages.

Type a report number and press enter to select it, q to quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		tok, err := sessionToken(config.NewKeychain())
		if err != nil {
			return err
		}
		sess, err := session.Peek(tok)
		if err != nil {
			return err
		}

		remote := realtime.NewRemote(serverURL(cfg), tok, slog.Default())
		d := dashboard.New(sess, remote, projector.Options{StageMarkers: cfg.Projector.StageMarkers}, slog.Default())

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runDashboard(ctx, d, os.Stdin, os.Stdout)
	},
}

// runDashboard renders d on every change and handles selection input until
// ctx ends, input closes or the user types q.
func runDashboard(ctx context.Context, d *dashboard.Dashboard, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	redraw := make(chan struct{}, 1)
	d.OnChange(func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	})

	if err := d.Start(); err != nil {
		return err
	}
	defer d.Stop()

	lines := readLines(ctx, in)

	draw := func() {
		if !noColor {
			fmt.Fprint(out, "\033[H\033[2J")
		}
		dashboard.Render(out, d.View(), paint)
		fmt.Fprint(out, "\nselect #, q to quit> ")
	}
	draw()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-redraw:
			draw()
		case line, ok := <-lines:
			if !ok || line == "q" || line == "quit" {
				return nil
			}
			if line == "" {
				draw()
				continue
			}
			n, err := strconv.Atoi(line)
			if err != nil {
				fmt.Fprintf(out, "not a report number: %q\n", line)
				continue
			}
			if err := d.SelectIndex(n); err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			draw()
		}
	}
}

// readLines streams trimmed input lines until in ends or ctx is done.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// --- fields ---

var fieldsCmd = &cobra.Command{
	Use:   "fields <report-id> <json>",
	Short: "Merge stage result fields into a report (pipeline write)",
	Long: `Merge stage result fields into a report, authenticated with the pipeline token.

Examples:
  appraise fields 3f2c... '{"property_info":{"PropertyAddress":"12 Elm St"}}'
  appraise fields 3f2c... '{"status":"complete"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch map[string]any
		if err := json.Unmarshal([]byte(args[1]), &patch); err != nil {
			return fmt.Errorf("invalid fields JSON: %w", err)
		}

		client, err := newPipelineClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/v1/reports/"+url.PathEscape(args[0])+"/fields", patch)
		if err != nil {
			return err
		}

		var updated report.Report
		if err := decodeJSON(resp, &updated); err != nil {
			return err
		}

		p := projector.Project(updated.Fields, projector.Options{})
		printSuccess("Merged %d field(s) into %s (%d%% complete, status %s)", len(patch), updated.ID, p.Percent(), updated.Status)
		return nil
	},
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a session token signed with the local session secret",
	Long: `Print a session token signed with the local session secret.

Examples:
  export APPRAISE_TOKEN=$(appraise token --user u-1 --email jane@example.com)
  appraise token --pipeline`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pipeline, _ := cmd.Flags().GetBool("pipeline")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		kc := config.NewKeychain()

		if pipeline {
			tok, err := config.Secret(kc, config.SecretPipeline)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		}

		if flagUser == "" {
			return fmt.Errorf("--user is required")
		}
		secret, err := config.Secret(kc, config.SecretJWT)
		if err != nil {
			return err
		}
		tok, err := session.NewIssuer(secret, ttl).Issue(session.Session{UserID: flagUser, Email: flagEmail})
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Bool("pipeline", false, "print the pipeline bearer token instead")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "session token lifetime")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		for _, name := range []string{config.SecretJWT, config.SecretPipeline} {
			fmt.Printf("  %s = (secret, env %s)\n", colorize(colorBold, "auth."+name), config.SecretEnv(name))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
