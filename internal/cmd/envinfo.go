package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docpilot/docpilot/internal/config"
	"github.com/docpilot/docpilot/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration and version information. Secrets are reported as set or not set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.CLILogger
		version := crucible.GetVersion()

		logger.Info("=== docpilot Environment Information ===")
		logger.Info("")

		logger.Info("Application:")
		logger.Info("  Version:    " + versionInfo.Version)
		logger.Info("  Commit:     " + versionInfo.Commit)
		logger.Info("  Built:      " + versionInfo.BuildDate)
		logger.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		logger.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		logger.Info("")

		logger.Info("Runtime:")
		logger.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		logger.Info("  Platform:   " + runtime.GOOS + "/" + runtime.GOARCH)
		logger.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()))
		logger.Info("")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger.Info("Configuration:")
		logger.Info("  Config Dir:     " + config.DefaultConfigDir())
		logger.Info(fmt.Sprintf("  Server:         %s:%d", cfg.Server.Host, cfg.Server.Port))
		logger.Info("  Admin API:      " + setStatus(cfg.Server.AdminToken))
		logger.Info("  Log Level:      " + cfg.Logging.Level)
		logger.Info("  Store Driver:   " + cfg.Store.Driver)
		if strings.TrimSpace(cfg.Store.URL) != "" {
			logger.Info("  Store URL:      " + cfg.Store.URL)
		} else if cfg.Store.Driver == "libsql" {
			logger.Info("  Store Path:     " + cfg.Store.Path)
		}
		logger.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port))
		logger.Info("")

		wx := cfg.Watsonx
		logger.Info("watsonx:")
		logger.Info("  IAM URL:        " + wx.IAM.URL)
		logger.Info("  IAM API Key:    " + setStatus(wx.IAM.APIKey))
		logger.Info("  Model:          " + wx.Generative.ModelID)
		logger.Info("  Generation URL: " + wx.Generative.Endpoint)
		logger.Info("  WML Project:    " + orUnset(wx.Generative.ProjectID))
		logger.Info("  Discovery URL:  " + orUnset(wx.Discovery.URL))
		logger.Info("  Discovery Proj: " + orUnset(wx.Discovery.ProjectID))
		logger.Info("  Default Coll.:  " + orUnset(wx.Discovery.DefaultCollectionID))
		logger.Info("")

		logger.Info("Throttling:")
		limiters := []struct {
			name string
			cfg  config.LimiterConfig
		}{
			{"generative", cfg.Throttle.Generative},
			{"discovery", cfg.Throttle.Discovery},
		}
		for _, entry := range limiters {
			name, l := entry.name, entry.cfg
			logger.Info(fmt.Sprintf("  %-10s %d per %s (%s, enabled=%t)", name, l.Limit, l.Interval, orUnset(l.Mode), l.Enabled))
		}
		logger.Info(fmt.Sprintf("  retries:   %d (jitter < %s)", cfg.Retry.MaxRetries, cfg.Retry.MaxJitter))
		logger.Info("")

		logger.Info("=== End Environment Information ===")
		return nil
	},
}

func setStatus(secret string) string {
	if strings.TrimSpace(secret) == "" {
		return "(not set)"
	}
	return "(set)"
}

func orUnset(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(unset)"
	}
	return value
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
