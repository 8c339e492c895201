package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hamed0406/uptimemonitor/internal/domain"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCmd() *cobra.Command {
	var base, key string
	api := &client{}

	root := &cobra.Command{
		Use:           "uptimectl",
		Short:         "Manage monitored targets through the uptime API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			*api = *newClient(base, key)
		},
	}
	root.PersistentFlags().StringVar(&base, "api", envOr("API_BASE", "http://localhost:8080"), "API base URL (API_BASE)")
	root.PersistentFlags().StringVar(&key, "key", os.Getenv("API_KEY"), "API key (API_KEY)")

	root.AddCommand(
		newAddCmd(api),
		newListCmd(api),
		newShowCmd(api),
		newChecksCmd(api),
		newIntervalCmd(api),
		newDeleteCmd(api),
		newAckCmd(api),
		newScheduleCmd(api),
		newActionCmd(api, "pause", "pause", "Stop scheduled checks for a target"),
		newActionCmd(api, "resume", "resume", "Resume scheduled checks for a target"),
		newActionCmd(api, "init", "init", "Reset a target's schedule and probe it now"),
		newActionCmd(api, "check", "execute-check", "Probe a target once, outside its schedule"),
		newActionCmd(api, "test-alert", "test-alert", "Send a test down alert for a target"),
	)
	return root
}

func targetPath(id string) string {
	return "/api/targets/" + url.PathEscape(id)
}

// promptURL reads a URL from in, defaulting to https:// when no scheme is given.
func promptURL(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter a site URL to monitor (e.g., https://example.com): ")
	raw, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && raw == "" {
		return "", err
	}
	return normalizeInput(raw)
}

func normalizeInput(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("no URL given")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	if _, err := url.ParseRequestURI(raw); err != nil {
		return "", fmt.Errorf("invalid URL %q", raw)
	}
	return raw, nil
}

func newAddCmd(api *client) *cobra.Command {
	var (
		name     string
		interval int
		expect   int
	)
	cmd := &cobra.Command{
		Use:   "add [url]",
		Short: "Register a target and start checking it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				raw string
				err error
			)
			if len(args) == 1 {
				raw, err = normalizeInput(args[0])
			} else {
				raw, err = promptURL(cmd.InOrStdin(), cmd.OutOrStdout())
			}
			if err != nil {
				return err
			}
			body := map[string]any{"url": raw}
			if name != "" {
				body["name"] = name
			}
			if interval > 0 {
				body["check_interval_seconds"] = interval
			}
			if expect > 0 {
				body["expected_status_code"] = expect
			}
			var resp struct {
				Target        domain.Target `json:"target"`
				ScheduleError string        `json:"schedule_error"`
			}
			if err := api.do(cmd.Context(), http.MethodPost, "/api/targets", body, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s), every %ds\n", resp.Target.ID, resp.Target.URL, resp.Target.CheckIntervalSeconds)
			if resp.ScheduleError != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: schedule not started:", resp.ScheduleError)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().IntVar(&interval, "interval", 0, "check interval in seconds (server default when 0)")
	cmd.Flags().IntVar(&expect, "expect", 0, "expected HTTP status code (any 2xx when 0)")
	return cmd
}

func newListCmd(api *client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ts []domain.Target
			if err := api.do(cmd.Context(), http.MethodGet, "/api/targets", nil, &ts); err != nil {
				return err
			}
			return printTargets(cmd.OutOrStdout(), ts)
		},
	}
}

func printTargets(w io.Writer, ts []domain.Target) error {
	if len(ts) == 0 {
		_, err := fmt.Fprintln(w, "No targets.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tURL\tEVERY\tSTATE\tFAILURES\tALERT")
	for _, t := range ts {
		state := "running"
		if !t.IsRunning {
			state = "paused"
		}
		alert := "-"
		if t.ActiveAlert {
			alert = "ACTIVE"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%ds\t%s\t%d\t%s\n",
			t.ID, t.DisplayName(), t.URL, t.CheckIntervalSeconds, state, t.ConsecutiveFailures, alert)
	}
	return tw.Flush()
}

func newShowCmd(api *client) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t domain.Target
			if err := api.do(cmd.Context(), http.MethodGet, targetPath(args[0]), nil, &t); err != nil {
				return err
			}
			return printTargets(cmd.OutOrStdout(), []domain.Target{t})
		},
	}
}

func newChecksCmd(api *client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "checks <id>",
		Short: "Show the latest check records of a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var recs []domain.CheckRecord
			path := targetPath(args[0]) + "/checks?limit=" + strconv.Itoa(limit)
			if err := api.do(cmd.Context(), http.MethodGet, path, nil, &recs); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tUP\tSTATUS\tMS\tREASON")
			for _, r := range recs {
				status := "-"
				if r.HTTPStatus != nil {
					status = strconv.Itoa(*r.HTTPStatus)
				}
				fmt.Fprintf(tw, "%s\t%t\t%s\t%d\t%s\n", r.Timestamp.Format("2006-01-02 15:04:05"), r.IsUp, status, r.ResponseTimeMS, r.Reason)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of records")
	return cmd
}

func newIntervalCmd(api *client) *cobra.Command {
	return &cobra.Command{
		Use:   "interval <id> <seconds>",
		Short: "Change how often a target is checked",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			secs, err := strconv.Atoi(args[1])
			if err != nil || secs <= 0 {
				return fmt.Errorf("interval must be a positive number of seconds, got %q", args[1])
			}
			var t domain.Target
			body := map[string]any{"check_interval_seconds": secs}
			if err := api.do(cmd.Context(), http.MethodPatch, targetPath(args[0]), body, &t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now checked every %ds\n", t.ID, t.CheckIntervalSeconds)
			return nil
		},
	}
}

func newAckCmd(api *client) *cobra.Command {
	return &cobra.Command{
		Use:   "ack <id>",
		Short: "Acknowledge the active alert so the next outage alerts again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"active_alert": false}
			if err := api.do(cmd.Context(), http.MethodPatch, targetPath(args[0]), body, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "acknowledged")
			return nil
		},
	}
}

func newDeleteCmd(api *client) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a target and its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := api.do(cmd.Context(), http.MethodDelete, targetPath(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		},
	}
}

func newScheduleCmd(api *client) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <id>",
		Short: "Show the armed wake-up of a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var st domain.ScheduleState
			if err := api.do(cmd.Context(), http.MethodGet, targetPath(args[0])+"/schedule", nil, &st); err != nil {
				return err
			}
			next := "paused"
			if st.NextWakeAt != nil {
				next = st.NextWakeAt.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "every %ds, next wake-up: %s\n", st.CheckIntervalSeconds, next)
			return nil
		},
	}
}

// newActionCmd builds a command that POSTs to /api/targets/<id>/<action>.
func newActionCmd(api *client, use, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]string
			if err := api.do(cmd.Context(), http.MethodPost, targetPath(args[0])+"/"+action, nil, &out); err != nil {
				return err
			}
			msg := out["status"]
			if msg == "" {
				msg = "ok"
			}
			if id := out["request_id"]; id != "" {
				msg += " (request " + id + ")"
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}
