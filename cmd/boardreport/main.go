// Command boardreport exports the full board inventory of an organization:
// every team, every board, and every board owner's email, flattened into a
// per-board CSV/JSON report.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mirokit/boardreport/pkg/client"
	"github.com/mirokit/boardreport/pkg/export"
	"github.com/mirokit/boardreport/pkg/logging"
	"github.com/mirokit/boardreport/pkg/ratelimit"
	"github.com/mirokit/boardreport/pkg/report"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	flagConfig   string
	flagOrg      string
	flagToken    string
	flagBaseURL  string
	flagOutput   string
	flagRedis    string
	flagLogLevel string
	flagPretty   bool
)

var rootCmd = &cobra.Command{
	Use:   "boardreport",
	Short: "Export the full board inventory of an organization",
	Long: "boardreport walks an organization's teams, boards, and board owners\n" +
		"through the REST API and writes a flattened per-board report\n" +
		"(CSV + JSON) plus an error artifact for anything left unresolved.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to YAML tuning file")
	rootCmd.Flags().StringVar(&flagOrg, "org", "", "organization id (prompted when absent)")
	rootCmd.Flags().StringVar(&flagToken, "token", "", "API token (or MIRO_API_TOKEN env, prompted when absent)")
	rootCmd.Flags().StringVar(&flagBaseURL, "base-url", client.DefaultBaseURL, "API base URL")
	rootCmd.Flags().StringVarP(&flagOutput, "output", "o", ".", "directory the report folder is created in")
	rootCmd.Flags().StringVar(&flagRedis, "redis", "", "redis address for sharing rate limit state across runs")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&flagPretty, "pretty", true, "human-readable log output")
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logging.Setup(logging.Config{
		Level:  flagLogLevel,
		Pretty: flagPretty,
	})

	creds, err := resolveCredentials()
	if err != nil {
		return err
	}

	fc, err := loadFileConfig(flagConfig)
	if err != nil {
		return err
	}
	cfg := pipelineConfig(creds.OrgID, fc)

	apiCfg := client.DefaultConfig(creds.Token)
	apiCfg.BaseURL = flagBaseURL
	apiCfg.Timeout = cfg.RequestTimeout
	api, err := client.New(apiCfg)
	if err != nil {
		return err
	}

	backoff, err := buildBackoff(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	color.Cyan("Starting board inventory export for organization %s", creds.OrgID)

	pipeline := export.New(api, backoff, cfg)
	summary := pipeline.Run(ctx)

	writer := report.NewWriter(flagOutput, time.Now())
	paths, err := writer.Write(pipeline.Store(), summary.Errors)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	printSummary(summary, paths, time.Since(start))

	if !summary.OK {
		return fmt.Errorf("export finished with failed phases; see %s", writer.Dir())
	}
	return nil
}

// resolveCredentials takes org id and token from flags or environment and
// prompts interactively for whatever is missing.
func resolveCredentials() (Credentials, error) {
	creds := Credentials{
		OrgID: flagOrg,
		Token: flagToken,
	}
	if creds.Token == "" {
		creds.Token = os.Getenv("MIRO_API_TOKEN")
	}

	if validOrgID(creds.OrgID) && validToken(creds.Token) {
		return creds, nil
	}

	prompted, err := promptCredentials(os.Stdin, os.Stdout)
	if err != nil {
		return Credentials{}, err
	}
	if !validOrgID(creds.OrgID) {
		creds.OrgID = prompted.OrgID
	}
	if !validToken(creds.Token) {
		creds.Token = prompted.Token
	}
	return creds, nil
}

// buildBackoff picks the pause store: Redis-backed when an address is
// configured, in-process memory otherwise.
func buildBackoff(ctx context.Context) (*ratelimit.Controller, error) {
	if flagRedis == "" {
		return ratelimit.NewController(ratelimit.NewMemoryStore()), nil
	}

	redisClient := redis.NewClient(&redis.Options{Addr: flagRedis})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", flagRedis, err)
	}
	return ratelimit.NewController(ratelimit.NewRedisStore(redisClient)), nil
}

func printSummary(summary *export.Summary, paths []string, elapsed time.Duration) {
	fmt.Println()
	if summary.OK {
		color.Green("Export complete in %s", elapsed.Round(time.Second))
	} else {
		color.Red("Export finished with failures in %s", elapsed.Round(time.Second))
	}

	fmt.Printf("  Teams:  %d\n", summary.Teams)
	fmt.Printf("  Boards: %d\n", summary.Boards)
	fmt.Printf("  Owners: %d (%d emails resolved, %d pending)\n",
		summary.Users, summary.ResolvedEmails, summary.PendingEmails)

	for _, phase := range summary.Phases {
		status := color.GreenString("ok")
		if !phase.OK {
			status = color.RedString("failed (%d unresolved)", len(phase.Errors))
		}
		fmt.Printf("  Phase %-8s %s\n", phase.Name+":", status)
	}

	fmt.Println("Report files:")
	for _, p := range paths {
		fmt.Printf("  %s\n", p)
	}
}
