package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/keywheel/keywheel/internal/config"
	errwrap "github.com/keywheel/keywheel/internal/errors"
	"github.com/keywheel/keywheel/internal/output"
	"github.com/keywheel/keywheel/internal/server/handlers"
)

const maxStatsResponseBytes = 1 << 20

var (
	statsURL     string
	statsOutput  string
	statsTimeout time.Duration
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show live per-key counters from a running server",
	Long: `Fetch ?action=stats from a running keywheel server and render it.

--url is the key endpoint, for example http://localhost:8080/api/key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(statsOutput)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), statsTimeout)
		defer cancel()

		stats, err := fetchStats(ctx, http.DefaultClient, statsURL)
		if err != nil {
			env := errwrap.NewServiceUnavailableError("stats request failed")
			env, _ = env.WithContext(map[string]interface{}{"url": statsURL, "wrapped_error": err.Error()})
			return env
		}

		rendered, err := output.FormatStats(format, stats.Stats)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return err
	},
}

// fetchStats issues GET <endpoint>?action=stats and decodes the response.
func fetchStats(ctx context.Context, client *http.Client, endpoint string) (*handlers.StatsResponse, error) {
	target, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("url must be absolute: %q", endpoint)
	}
	query := target.Query()
	query.Set("action", "stats")
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatsResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var stats handlers.StatsResponse
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &stats, nil
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVar(&statsURL, "url", "http://localhost:8080"+config.DefaultAPIPath, "key endpoint of a running server")
	statsCmd.Flags().StringVar(&statsOutput, "output-format", string(output.FormatTable), "Output format: table|json|markdown")
	statsCmd.Flags().DurationVar(&statsTimeout, "timeout", 10*time.Second, "request timeout")
}
