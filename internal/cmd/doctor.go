package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/docpilot/docpilot/internal/config"
	"github.com/docpilot/docpilot/internal/contentstore"
	"github.com/docpilot/docpilot/internal/observability"
	"github.com/docpilot/docpilot/internal/watsonx/iam"
)

var (
	doctorOffline bool
	doctorTimeout time.Duration
)

// doctorReport counts diagnostic results.
type doctorReport struct {
	logger *logging.Logger
	total  int
	step   int
	failed int
}

func (r *doctorReport) ok(check, detail string, fields ...zap.Field) {
	r.step++
	r.logger.Info(fmt.Sprintf("[%d/%d] %s... ✅ %s", r.step, r.total, check, detail), fields...)
}

func (r *doctorReport) warn(check, detail string, fields ...zap.Field) {
	r.step++
	r.logger.Warn(fmt.Sprintf("[%d/%d] %s... ⚠️  %s", r.step, r.total, check, detail), fields...)
}

func (r *doctorReport) fail(check, detail string, fields ...zap.Field) {
	r.step++
	r.failed++
	r.logger.Error(fmt.Sprintf("[%d/%d] %s... ❌ %s", r.step, r.total, check, detail), fields...)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on configuration, the content store and the
watsonx backends, and suggest fixes for common issues.

Use --offline to skip the checks that call IBM Cloud.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		report := &doctorReport{logger: observability.CLILogger, total: 7}
		report.logger.Info("=== " + config.AppName + " doctor ===")

		goVersion := runtime.Version()
		report.ok("Checking Go version", goVersion, zap.String("go_version", goVersion))

		version := crucible.GetVersion()
		if version.Gofulmen != "" {
			report.ok("Checking Gofulmen", "v"+version.Gofulmen,
				zap.String("gofulmen_version", version.Gofulmen),
				zap.String("crucible_version", version.Crucible))
		} else {
			report.warn("Checking Gofulmen", "version unavailable")
		}

		cfg, err := loadConfig()
		if err != nil {
			report.fail("Checking configuration", err.Error())
			return err
		}
		report.ok("Checking configuration", configSource())

		checkStore(ctx, report, cfg.Store)

		wx := cfg.Watsonx
		if strings.TrimSpace(wx.Discovery.URL) == "" || strings.TrimSpace(wx.Discovery.ProjectID) == "" {
			report.fail("Checking Discovery settings", "set watsonx.discovery.url and watsonx.discovery.project_id (or DISCOVERY_SERVICE_URL / DISCOVERY_PROJECT_ID)")
		} else {
			report.ok("Checking Discovery settings", wx.Discovery.URL, zap.String("project_id", wx.Discovery.ProjectID))
		}

		if doctorOffline {
			report.warn("Checking IAM token", "skipped (--offline)")
			report.warn("Checking Discovery access", "skipped (--offline)")
		} else {
			checkBackends(ctx, report, cfg)
		}

		if report.failed > 0 {
			return fmt.Errorf("%d diagnostic checks failed", report.failed)
		}
		report.logger.Info("✅ All diagnostic checks passed")
		return nil
	},
}

func configSource() string {
	if used := strings.TrimSpace(viper.ConfigFileUsed()); used != "" {
		return used
	}
	return "defaults and environment (no config file)"
}

func checkStore(ctx context.Context, report *doctorReport, cfg config.StoreConfig) {
	const check = "Checking content store"

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == contentstore.DriverLibsql && strings.TrimSpace(cfg.URL) == "" {
		absPath, _ := filepath.Abs(cfg.Path)
		if info, err := os.Stat(absPath); err == nil {
			report.logger.Debug("Database file found",
				zap.String("db_path", absPath),
				zap.String("db_size", formatFileSize(info.Size())))
		}
	}

	store, err := contentstore.Open(ctx, cfg)
	if err != nil {
		report.fail(check, err.Error(), zap.String("driver", cfg.Driver))
		return
	}
	defer store.Close() // nolint:errcheck // best-effort cleanup

	if p, ok := store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			report.fail(check, err.Error(), zap.String("driver", store.Driver()))
			return
		}
	}
	if store.Driver() == contentstore.DriverNoop {
		report.warn(check, "noop driver keeps no uploads; downloads will 404")
		return
	}
	report.ok(check, store.Driver())
}

func checkBackends(ctx context.Context, report *doctorReport, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()

	wx := cfg.Watsonx
	tokens := iam.Source(wx.Discovery.AccessToken, firstNonEmpty(wx.Discovery.APIKey, wx.IAM.APIKey), wx.IAM.URL, nil)
	if tokens == nil {
		report.fail("Checking IAM token", "no API key or access token (set IBM_CLOUD_API_KEY)")
		report.warn("Checking Discovery access", "skipped (no credentials)")
		return
	}
	if _, err := tokens.Token(ctx); err != nil {
		report.fail("Checking IAM token", err.Error())
		report.warn("Checking Discovery access", "skipped (no token)")
		return
	}
	report.ok("Checking IAM token", "obtained")

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		report.fail("Checking Discovery access", err.Error())
		return
	}
	defer a.Close() // nolint:errcheck // best-effort cleanup

	collections, err := a.documents.ListCollections(ctx, true)
	if err != nil {
		report.fail("Checking Discovery access", err.Error())
		return
	}
	report.ok("Checking Discovery access", fmt.Sprintf("%d collections", len(collections)))
}

func formatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "skip checks that call IBM Cloud")
	doctorCmd.Flags().DurationVar(&doctorTimeout, "timeout", 15*time.Second, "timeout for backend checks")
}
