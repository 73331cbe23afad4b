package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/docpilot/docpilot/internal/errors"
	"github.com/docpilot/docpilot/internal/output"
	"github.com/docpilot/docpilot/internal/throttle"
)

var (
	throttleServer string
	throttleToken  string
	throttleName   string
)

var throttleCmd = &cobra.Command{
	Use:   "throttle",
	Short: "Inspect and control the limiters of a running server",
	Long: `Talk to the admin API of a running docpilot server.

The server must be started with server.admin_token set; the same token is
read from config or --token.`,
}

var throttleListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show limiter settings and queue sizes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAdminClient()
		if err != nil {
			return err
		}
		var resp struct {
			Limiters []throttle.Status `json:"limiters"`
		}
		if err := client.do(cmd.Context(), http.MethodGet, "", nil, &resp); err != nil {
			return err
		}
		return render(cmd, func(f output.Formatter) (string, error) {
			return f.FormatThrottles(resp.Limiters)
		})
	},
}

var throttleAbortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Reject every queued call (or those of --name)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAdminClient()
		if err != nil {
			return err
		}
		path := "/abort"
		if name := strings.TrimSpace(throttleName); name != "" {
			path += "?name=" + url.QueryEscape(name)
		}
		var resp struct {
			Aborted map[string]int `json:"aborted"`
		}
		if err := client.do(cmd.Context(), http.MethodPost, path, nil, &resp); err != nil {
			return err
		}
		for name, n := range resp.Aborted {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d queued calls aborted\n", name, n)
		}
		return nil
	},
}

func toggleCommand(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <limiter>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClient()
			if err != nil {
				return err
			}
			var status throttle.Status
			body := map[string]bool{"enabled": enabled}
			if err := client.do(cmd.Context(), http.MethodPut, "/"+url.PathEscape(args[0]), body, &status); err != nil {
				return err
			}
			return render(cmd, func(f output.Formatter) (string, error) {
				return f.FormatThrottles([]throttle.Status{status})
			})
		},
	}
}

// adminClient calls /v1/admin/throttle with a bearer token.
type adminClient struct {
	base   string
	token  string
	client *http.Client
}

func newAdminClient() (*adminClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	server := strings.TrimRight(strings.TrimSpace(throttleServer), "/")
	if server == "" {
		server = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	token := firstNonEmpty(throttleToken, cfg.Server.AdminToken)
	if token == "" {
		return nil, &configError{err: fmt.Errorf("an admin token is required (--token or server.admin_token)")}
	}
	return &adminClient{
		base:   server + "/v1/admin/throttle",
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *adminClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("admin request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope apperrors.HTTPErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Code != "" {
			return fmt.Errorf("admin request failed: %s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("admin request failed: status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var (
	throttleEnableCmd  = toggleCommand("enable", "Turn throttling of a limiter on", true)
	throttleDisableCmd = toggleCommand("disable", "Turn throttling of a limiter off", false)
)

func init() {
	rootCmd.AddCommand(throttleCmd)
	throttleCmd.AddCommand(throttleListCmd, throttleAbortCmd, throttleEnableCmd, throttleDisableCmd)

	throttleCmd.PersistentFlags().StringVar(&throttleServer, "server", "", "server base URL (default from server.host and server.port)")
	throttleCmd.PersistentFlags().StringVar(&throttleToken, "token", "", "admin bearer token (default server.admin_token)")
	throttleAbortCmd.Flags().StringVar(&throttleName, "name", "", "only abort this limiter")

	addOutputFlags(throttleListCmd)
	addOutputFlags(throttleEnableCmd)
	addOutputFlags(throttleDisableCmd)
}
