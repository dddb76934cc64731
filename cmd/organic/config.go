package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/FCisco95/organic-app-sub000/internal/app"
	"github.com/FCisco95/organic-app-sub000/internal/config"
	"github.com/FCisco95/organic-app-sub000/internal/engine"
	"github.com/FCisco95/organic-app-sub000/internal/events"
	"github.com/FCisco95/organic-app-sub000/internal/repo"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Org configuration"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configImportCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init <org-id>",
		Short: "Write a default organic.yml into the workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(args[0])), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// configImportCmd stores a YAML config in the database. Engines read the
// stored copy; organic.yml only seeds it the first time.
func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import org config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if filePath == "" {
				filePath = config.Path(workspace)
			}
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			orgID := viper.GetString("org")
			if orgID == "" {
				orgID = cfg.Org.ID
			}
			if orgID == "" {
				return errors.New("config names no org; pass --org")
			}
			cfg.Org.ID = orgID
			conn, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			r := repo.Repo{DB: conn}
			if err := r.UpsertOrgConfig(cmd.Context(), nil, orgID, cfg, time.Now()); err != nil {
				return err
			}
			return printConfig(cfg)
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config (defaults to the workspace organic.yml)")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored config of the active org",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printConfig(e.Config)
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a YAML config without storing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" {
				filePath = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(filePath); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	return cmd
}

func printConfig(cfg *config.Config) error {
	if jsonOutput() {
		return printJSON(cfg)
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Audit event log"}
	var f events.Filter
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Events.List(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, ev := range items {
					rows = append(rows, table.Row{ev.ID, ev.TS.Format(time.RFC3339), ev.Type, ev.EntityKind, ev.EntityID, ev.ActorID})
				}
				return printTable(items, table.Row{"ID", "Time", "Type", "Kind", "Entity", "Actor"}, rows)
			})
		},
	}
	tail.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind filter")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id filter")
	cmd.AddCommand(tail)
	return cmd
}
