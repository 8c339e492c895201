// cmd/preflight/main.go
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/multierr"

	"github.com/hamed0406/uptimemonitor/internal/config"
	"github.com/hamed0406/uptimemonitor/internal/repo/open"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if !preflight(cfg, err, os.Stdout, os.Stderr) {
		os.Exit(1)
	}
}

// preflight prints one line per finding and reports whether the API may start.
func preflight(cfg config.Config, loadErr error, stdout, stderr io.Writer) bool {
	passed := true
	fail := func(msg string) {
		fmt.Fprintln(stderr, "✖", msg)
		passed = false
	}
	warn := func(msg string) { fmt.Fprintln(stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Fprintln(stdout, "✔", msg) }

	for _, err := range multierr.Errors(loadErr) {
		fail(err.Error())
	}

	if len(cfg.AdminAPIKeys) == 0 {
		fail("ADMIN_API_KEYS is empty (write routes are open to anyone).")
	}
	if len(cfg.PublicAPIKeys) == 0 {
		warn("PUBLIC_API_KEYS is empty; reads need an admin key or are open if no keys are set.")
	}
	for name, keys := range map[string][]string{"ADMIN_API_KEYS": cfg.AdminAPIKeys, "PUBLIC_API_KEYS": cfg.PublicAPIKeys} {
		for _, k := range keys {
			if strings.ContainsAny(k, " \t") {
				warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
				break
			}
		}
	}

	ok("API_ADDR=" + cfg.Addr)

	switch {
	case open.Engine(cfg.DatabaseURL) == "memory":
		warn("DATABASE_URL=" + cfg.DatabaseURL + ": targets and schedules are lost on restart.")
	case cfg.DatabaseURL == "":
		ok("DATABASE_URL empty: using SQLite file " + open.DefaultSQLitePath)
	default:
		ok("DATABASE_URL present (" + open.Engine(cfg.DatabaseURL) + ")")
	}

	if cfg.OpsgenieAPIKey == "" && cfg.SlackWebhookURL == "" {
		warn("No alert channel: set OPSGENIE_API_KEY or SLACK_WEBHOOK_URL to get down alerts.")
	} else {
		ok("alert channels configured")
	}

	if cfg.ProbeTimeout == 0 {
		warn("PROBE_TIMEOUT_MS unset: a hanging site holds its probe until shutdown.")
	}

	if len(cfg.AllowedOrigins) == 0 {
		warn("ALLOWED_ORIGINS empty: every origin is allowed by CORS.")
	} else {
		ok("ALLOWED_ORIGINS=" + strings.Join(cfg.AllowedOrigins, ","))
	}

	if passed {
		ok("preflight passed")
	}
	return passed
}
