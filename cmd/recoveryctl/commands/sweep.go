package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"recovery-caller/internal/calls"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one dispatcher sweep on the API server",
		Long: `Triggers POST /internal/sweep with a scheduler service token.
The token comes from --token or RECOVERY_TOKEN; the server from --server or RECOVERY_SERVER.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, err := cmd.Flags().GetInt(flagLimit)
			if err != nil {
				return err
			}
			if limit <= 0 {
				return fmt.Errorf("--%s must be > 0", flagLimit)
			}
			server := flagOrEnv(cmd, flagServer, envServer)
			if server == "" {
				server = defaultServer
			}
			token := flagOrEnv(cmd, flagToken, envToken)
			if token == "" {
				return fmt.Errorf("a service token is required (--%s or %s)", flagToken, envToken)
			}

			res, err := triggerSweep(cmd.Context(), http.DefaultClient, server, token, limit)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return fmt.Errorf("error marshaling output: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().IntP(flagLimit, "l", 50, "Maximum number of due jobs to process")
	cmd.Flags().StringP(flagServer, "s", "", "API server address (env: "+envServer+")")
	cmd.Flags().StringP(flagToken, "t", "", "Scheduler service token (env: "+envToken+")")
	return cmd
}

func flagOrEnv(cmd *cobra.Command, flag, env string) string {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		return v
	}
	return os.Getenv(env)
}

func triggerSweep(ctx context.Context, hc *http.Client, server, token string, limit int) (calls.SweepResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	body, err := json.Marshal(map[string]int{"limit": limit})
	if err != nil {
		return calls.SweepResult{}, err
	}
	url := strings.TrimRight(server, "/") + "/internal/sweep"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return calls.SweepResult{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := hc.Do(req)
	if err != nil {
		return calls.SweepResult{}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return calls.SweepResult{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return calls.SweepResult{}, fmt.Errorf("sweep failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var res calls.SweepResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return calls.SweepResult{}, fmt.Errorf("decoding response: %w", err)
	}
	return res, nil
}
