package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmcleod/panelgate/config"
	"github.com/jmcleod/panelgate/panel"
)

type checkReport struct {
	File   string        `json:"file"`
	Valid  bool          `json:"valid"`
	Checks []checkResult `json:"checks"`
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "fail", "warn"
	Detail string `json:"detail,omitempty"`
}

func (r *checkReport) pass(name, detail string) {
	r.Checks = append(r.Checks, checkResult{Name: name, Status: "pass", Detail: detail})
}

func (r *checkReport) warn(name, detail string) {
	r.Checks = append(r.Checks, checkResult{Name: name, Status: "warn", Detail: detail})
}

func (r *checkReport) fail(name, detail string) {
	r.Valid = false
	r.Checks = append(r.Checks, checkResult{Name: name, Status: "fail", Detail: detail})
}

// checkConfig runs every offline check against the file at path, with
// environment overrides read through lookup.
func checkConfig(path string, lookup func(string) (string, bool)) checkReport {
	report := checkReport{File: path, Valid: true}

	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
		report.pass("parse", "no file given, using defaults")
	} else {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			report.fail("parse", err.Error())
			return report
		}
		report.pass("parse", "")
	}

	if err := config.ApplyEnvOverrides(cfg, lookup); err != nil {
		report.fail("env_overrides", err.Error())
	} else {
		report.pass("env_overrides", "")
	}

	var ve config.ValidationError
	switch err := config.Validate(cfg); {
	case err == nil:
		report.pass("validate", "")
	case errors.As(err, &ve):
		for _, fe := range ve.Errors {
			report.fail("validate", fe.Error())
		}
	default:
		report.fail("validate", err.Error())
	}

	if _, err := cfg.ResolveMasterKey(); err != nil {
		report.fail("master_key", err.Error())
	} else {
		report.pass("master_key", "")
	}

	checkStoragePath(&report, cfg.Storage)

	if cfg.Server.TLSCert != "" && cfg.Server.TLSKey != "" {
		if _, err := loadServerCertificate(cfg.Server.TLSCert, cfg.Server.TLSKey); err != nil {
			report.fail("tls_certificate", err.Error())
		} else {
			report.pass("tls_certificate", "")
		}
	}

	if cfg.Proxy.CAFile != "" {
		if _, err := loadCAPool(cfg.Proxy.CAFile); err != nil {
			report.fail("ca_file", err.Error())
		} else {
			report.pass("ca_file", "")
		}
	}

	if err := config.ApplyPanels(panel.DefaultRegistry(), cfg.Panels); err != nil {
		report.fail("panel_paths", err.Error())
	} else {
		report.pass("panel_paths", fmt.Sprintf("%d override(s)", len(cfg.Panels)))
	}

	if cfg.Audit.WebhookURL == "" {
		report.pass("audit_webhook", "disabled")
	} else {
		report.pass("audit_webhook", cfg.Audit.WebhookURL)
	}

	return report
}

func checkStoragePath(report *checkReport, cfg config.StorageConfig) {
	switch cfg.Backend {
	case "memory":
		report.warn("storage", "memory backend: accounts and panel configs are lost on restart")
		return
	case "postgres":
		report.pass("storage", "postgres (connection not tested offline)")
		return
	}
	dir := cfg.Path
	if cfg.Backend != "leveldb" {
		dir = filepath.Dir(cfg.Path)
	}
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		report.warn("storage", fmt.Sprintf("%s does not exist yet and will be created", dir))
	case err != nil:
		report.fail("storage", err.Error())
	case !info.IsDir():
		report.fail("storage", fmt.Sprintf("%s is not a directory", dir))
	default:
		report.pass("storage", fmt.Sprintf("%s at %s", cfg.Backend, cfg.Path))
	}
}

func printHumanReport(w io.Writer, report checkReport) {
	file := report.File
	if file == "" {
		file = "(defaults)"
	}
	fmt.Fprintf(w, "Configuration check: %s\n\n", file)

	failures, warnings := 0, 0
	for _, c := range report.Checks {
		tag := "[PASS]"
		switch c.Status {
		case "fail":
			tag = "[FAIL]"
			failures++
		case "warn":
			tag = "[WARN]"
			warnings++
		}
		if c.Detail != "" {
			fmt.Fprintf(w, "%s %s: %s\n", tag, c.Name, c.Detail)
		} else {
			fmt.Fprintf(w, "%s %s\n", tag, c.Name)
		}
	}

	fmt.Fprintln(w)
	if report.Valid {
		fmt.Fprintf(w, "Result: VALID (%d warning(s))\n", warnings)
	} else {
		fmt.Fprintf(w, "Result: INVALID (%d error(s), %d warning(s))\n", failures, warnings)
	}
}

func printJSONReport(w io.Writer, report checkReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

var errInvalidConfig = errors.New("configuration is invalid")

var checkJSONOutput bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration tools",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a configuration file without starting the server",
	Long: `Loads the file given by --config, applies PANELGATE_* environment
overrides and runs the same validation as the server. It also checks that
the master key resolves and that TLS, CA and storage paths are usable.
Exits non-zero when any check fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		report := checkConfig(configPath, os.LookupEnv)
		out := cmd.OutOrStdout()
		if checkJSONOutput {
			if err := printJSONReport(out, report); err != nil {
				return err
			}
		} else {
			printHumanReport(out, report)
		}
		if !report.Valid {
			return errInvalidConfig
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configCheckCmd)
	configCheckCmd.Flags().BoolVar(&checkJSONOutput, "json", false, "Output results as JSON")
}
