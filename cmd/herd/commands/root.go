package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dyluth/herd/internal/printer"
	"github.com/dyluth/herd/pkg/fleet"
)

var (
	version string
	commit  string
	date    string
)

// Persistent flags shared by every subcommand: where the fleet lives and
// who is calling.
var (
	flagRedisURL string
	flagConcert  string
	flagClient   string
	flagCaller   string
	flagGateway  string
	flagRemote   bool
	flagTimeout  time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "herd",
	Short: "Herd - remote lifecycle control for concert fleet clients",
	Long: `Herd drives the agent lifecycle service that a fleet client exposes to
its concert: spawning and killing simulated agents, acquiring the remote
controller lease, and listing the live roster.

Requests travel over the concert's Redis transport and every command
reports the fleet client's structured outcome.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRedisURL, "redis", "", "Redis URL (defaults to $REDIS_URL)")
	rootCmd.PersistentFlags().StringVar(&flagConcert, "concert", "", "Concert name (required)")
	rootCmd.PersistentFlags().StringVar(&flagClient, "client", "", "Target fleet client name (required)")
	rootCmd.PersistentFlags().StringVar(&flagCaller, "as", "remocon", "Caller identity attached to requests")
	rootCmd.PersistentFlags().StringVar(&flagGateway, "gateway", "", "Gateway the request enters through (defaults to caller identity)")
	rootCmd.PersistentFlags().BoolVar(&flagRemote, "remote", false, "Mark the request as entering from a remote gateway")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 3*time.Second, "How long to wait for the fleet client's response")
}

// newFleetClient connects to the concert's Redis transport using the
// persistent flags.
func newFleetClient() (*fleet.Client, error) {
	redisURL := flagRedisURL
	if redisURL == "" {
		redisURL = os.Getenv("REDIS_URL")
	}
	if redisURL == "" {
		return nil, printer.Error(
			"no Redis URL",
			"The concert transport address is not configured.",
			[]string{"Pass --redis redis://host:6379", "Or set $REDIS_URL"},
		)
	}
	if flagConcert == "" || flagClient == "" {
		return nil, printer.Error(
			"missing target",
			"Both the concert and the target fleet client must be named.",
			[]string{"Pass --concert <name> --client <name>"},
		)
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	return fleet.NewClient(redisOpts, flagConcert, flagClient)
}

// caller builds the request identity from the persistent flags. The
// capability names the operation being exercised, e.g. "turtle_concert/spawn".
func caller(capability string) fleet.Caller {
	gateway := flagGateway
	if gateway == "" {
		gateway = flagCaller
	}

	origin := fleet.OriginLocal
	if flagRemote {
		origin = fleet.OriginRemote
	}

	return fleet.Caller{
		ID:         flagCaller,
		Capability: capability,
		Gateway:    gateway,
		Origin:     origin,
	}
}
