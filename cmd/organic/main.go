package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FCisco95/organic-app-sub000/internal/app"
	"github.com/FCisco95/organic-app-sub000/internal/db"
	"github.com/FCisco95/organic-app-sub000/internal/engine"
	"github.com/FCisco95/organic-app-sub000/internal/telemetry"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "organic",
	Short: "Organic contributor platform CLI",
	Long: `Organic runs a contributor DAO: sprints of tasks, reviewed submissions,
disputes over reviews, token rewards at settlement and token-weighted
proposals.

- Sprints move planning -> active -> review -> dispute_window -> settlement -> completed.
- Settlement is guarded by the emission cap and a sticky kill switch.
- Disputes stake XP and escalate tiers mediation -> council -> admin.
- Proposals snapshot holder power when voting opens; finalize is idempotent per dedupe key.
- Every change is recorded in the event log, see 'organic log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := db.EnsureWorkspace(viper.GetString("workspace")); err != nil {
			return err
		}
		return telemetry.Init(cmd.Context(), "organic", version)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Shutdown(context.Background())
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ORGANIC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "", "member id acting")
	flags.String("org", "", "org id (overrides the stored default)")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")
	for _, name := range []string{"workspace", "json", "actor-id", "org", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(sprintCmd())
	rootCmd.AddCommand(settlementCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(submissionCmd())
	rootCmd.AddCommand(disputeCmd())
	rootCmd.AddCommand(proposalCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func actorID() string {
	return viper.GetString("actor-id")
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := app.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	e, err := app.NewEngine(ctx, conn, workspace, viper.GetString("org"), newLogger())
	if err != nil {
		return err
	}
	return fn(ctx, e)
}
