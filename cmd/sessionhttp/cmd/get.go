package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/RassulYunussov/sessionhttp"
	"github.com/spf13/cobra"
)

var (
	getParams   []string
	getCacheTTL time.Duration
)

var getCmd = &cobra.Command{
	Use:   "get PATH",
	Short: "Issue a GET and print the response body",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := make(map[string]any, len(getParams))
		for _, p := range getParams {
			k, v, ok := strings.Cut(p, "=")
			if !ok {
				return fmt.Errorf("invalid param %q, expected key=value", p)
			}
			params[k] = v
		}
		r := sessionhttp.NewRequest(http.MethodGet, args[0])
		r.Params = params
		r.CacheTTL = getCacheTTL
		r.RetryAttempts = cfg.Retry.Attempts

		ctx := sessionhttp.WithNavigationPath(cmd.Context(), navigationPath)
		resp, err := client.Do(ctx, r)
		if err != nil {
			if client.AuthBlocked() {
				return fmt.Errorf("session expired, log in again: %w", err)
			}
			return err
		}
		defer resp.Body.Close()
		logger.Debug().Int("attempts", r.Attempts()).Bool("cache_hit", r.CacheHit()).Msg("request done")
		_, err = io.Copy(os.Stdout, resp.Body)
		return err
	},
}

func init() {
	getCmd.Flags().StringArrayVarP(&getParams, "param", "p", nil, "Query parameter key=value, repeatable")
	getCmd.Flags().DurationVar(&getCacheTTL, "cache-ttl", 0, "Cache the response for this long")
}
