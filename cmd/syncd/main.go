package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	serverrun "github.com/rivermail/syncd/internal/cmd/server"
	cfgpkg "github.com/rivermail/syncd/internal/config"
	"github.com/rivermail/syncd/internal/runtime"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "syncd",
		Short: "Syncd CLI",
		Long:  "Syncd hosts mailbox shards, a transactional change log, and the delta-sync API. This CLI manages the server and basic operations.",
	}
	rootCmd.PersistentFlags().String("config", os.Getenv("SYNCD_CONFIG"), "Path to config file (JSON or YAML)")

	rootCmd.AddCommand(newServerCommand())
	rootCmd.AddCommand(newShardCommand())
	rootCmd.AddCommand(newCursorCommand())
	rootCmd.AddCommand(newAccountCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config when given, otherwise starts from defaults.
// Environment overrides always apply last.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := cfgpkg.Default()
	if path != "" {
		loaded, err := cfgpkg.Load(path)
		if err != nil {
			return cfgpkg.Config{}, err
		}
		cfg = loaded
	}
	cfgpkg.FromEnv(&cfg)
	return cfg, nil
}

func newServerCommand() *cobra.Command {
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	startCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the syncd server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
				cfg.DataDir = v
			}
			if v, _ := cmd.Flags().GetString("host"); v != "" {
				cfg.Host = v
			}
			if v, _ := cmd.Flags().GetString("log-level"); v != "" {
				cfg.Log.Level = v
			}
			if v, _ := cmd.Flags().GetString("log-format"); v != "" {
				cfg.Log.Format = v
			}
			httpAddr, _ := cmd.Flags().GetString("http")
			if err := serverrun.Run(context.Background(), serverrun.Options{Config: cfg, HTTPAddr: httpAddr}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	startCmd.Flags().String("http", "", "HTTP listen address (overrides config)")
	startCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	startCmd.Flags().String("host", "", "Hostname reported in handoff events (overrides config)")
	startCmd.Flags().String("log-level", os.Getenv("SYNCD_LOG_LEVEL"), "Log level: debug|info|warn|error")
	startCmd.Flags().String("log-format", os.Getenv("SYNCD_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(startCmd)
	return serverCmd
}

// withRuntime opens a local runtime for operational commands, runs fn, and
// closes everything afterwards.
func withRuntime(cmd *cobra.Command, includeDisabled bool, fn func(ctx context.Context, rt *runtime.Runtime) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rt, err := runtime.Open(runtime.Options{
		Config:                cfg,
		Logger:                serverrun.NewLogger(cfg),
		IncludeDisabledShards: includeDisabled,
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(cmd.Context(), rt)
}

func newShardCommand() *cobra.Command {
	shardCmd := &cobra.Command{Use: "shard", Short: "Shard schema operations"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create the schema on a shard and seed its ID sequences",
		RunE: func(cmd *cobra.Command, args []string) error {
			shardID, _ := cmd.Flags().GetInt64("shard")
			return withRuntime(cmd, false, func(ctx context.Context, rt *runtime.Runtime) error {
				if err := rt.Registry().CreateSchema(ctx, shardID); err != nil {
					return err
				}
				fmt.Printf("shard %d: schema created\n", shardID)
				return nil
			})
		},
	}
	createCmd.Flags().Int64("shard", 0, "Shard ID")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify that a shard's ID sequences carry the shard tag",
		RunE: func(cmd *cobra.Command, args []string) error {
			shardID, _ := cmd.Flags().GetInt64("shard")
			return withRuntime(cmd, false, func(ctx context.Context, rt *runtime.Runtime) error {
				if err := rt.Registry().VerifySchema(ctx, shardID); err != nil {
					return err
				}
				fmt.Printf("shard %d: ok\n", shardID)
				return nil
			})
		},
	}
	verifyCmd.Flags().Int64("shard", 0, "Shard ID")

	repairCmd := &cobra.Command{
		Use:   "repair",
		Short: "Re-seed drifted ID sequences on a shard",
		RunE: func(cmd *cobra.Command, args []string) error {
			shardID, _ := cmd.Flags().GetInt64("shard")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			return withRuntime(cmd, true, func(ctx context.Context, rt *runtime.Runtime) error {
				repaired, err := rt.Registry().RepairSchema(ctx, shardID, dryRun)
				if err != nil {
					return err
				}
				if len(repaired) == 0 {
					fmt.Printf("shard %d: nothing to repair\n", shardID)
					return nil
				}
				verb := "re-seeded"
				if dryRun {
					verb = "would re-seed"
				}
				for _, table := range repaired {
					fmt.Printf("shard %d: %s %s\n", shardID, verb, table)
				}
				return nil
			})
		},
	}
	repairCmd.Flags().Int64("shard", 0, "Shard ID")
	repairCmd.Flags().Bool("dry-run", false, "Report drifted sequences without writing")

	shardCmd.AddCommand(createCmd, verifyCmd, repairCmd)
	return shardCmd
}

func newCursorCommand() *cobra.Command {
	cursorCmd := &cobra.Command{Use: "cursor", Short: "Delta cursor operations"}
	latestCmd := &cobra.Command{
		Use:   "latest",
		Short: "Print the latest delta cursor for a namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			nsID, _ := cmd.Flags().GetString("namespace")
			if nsID == "" {
				return fmt.Errorf("--namespace is required")
			}
			return withRuntime(cmd, false, func(ctx context.Context, rt *runtime.Runtime) error {
				ns, err := rt.Reader().Namespace(ctx, nsID)
				if err != nil {
					return err
				}
				cursor, err := rt.Reader().LatestCursor(ctx, ns)
				if err != nil {
					return err
				}
				fmt.Println(cursor)
				return nil
			})
		},
	}
	latestCmd.Flags().String("namespace", "", "Namespace public ID")
	cursorCmd.AddCommand(latestCmd)
	return cursorCmd
}

// Account commands talk to a running server over HTTP so that handoff
// publishing happens in the server process, not the CLI.
func newAccountCommand() *cobra.Command {
	accountCmd := &cobra.Command{Use: "account", Short: "Account operations (via a running server)"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account and its namespace on a shard",
		RunE: func(cmd *cobra.Command, args []string) error {
			shardID, _ := cmd.Flags().GetInt64("shard")
			email, _ := cmd.Flags().GetString("email")
			provider, _ := cmd.Flags().GetString("provider")
			return postAPI("/v1/accounts/create", map[string]any{
				"shard_id": shardID, "email": email, "provider": provider,
			})
		},
	}
	createCmd.Flags().Int64("shard", 0, "Shard ID")
	createCmd.Flags().String("email", "", "Account email address")
	createCmd.Flags().String("provider", "gmail", "Mail provider")

	enableCmd := &cobra.Command{
		Use:   "sync-enable",
		Short: "Set whether sync should run for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetInt64("id")
			shouldRun, _ := cmd.Flags().GetBool("run")
			return postAPI("/v1/accounts/sync_enable", map[string]any{
				"account_id": id, "should_run": shouldRun,
			})
		},
	}
	enableCmd.Flags().Int64("id", 0, "Account ID")
	enableCmd.Flags().Bool("run", true, "Whether sync should run")

	assignCmd := &cobra.Command{
		Use:   "assign",
		Short: "Set the desired sync host for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetInt64("id")
			host, _ := cmd.Flags().GetString("host")
			return postAPI("/v1/accounts/assign", map[string]any{
				"account_id": id, "host": host,
			})
		},
	}
	assignCmd.Flags().Int64("id", 0, "Account ID")
	assignCmd.Flags().String("host", "", "Desired sync host (empty clears the hint)")

	startCmd := &cobra.Command{
		Use:   "sync-start",
		Short: "Claim an account for a sync host",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetInt64("id")
			host, _ := cmd.Flags().GetString("host")
			return postAPI("/v1/accounts/sync_start", map[string]any{
				"account_id": id, "host": host,
			})
		},
	}
	startCmd.Flags().Int64("id", 0, "Account ID")
	startCmd.Flags().String("host", "", "Claiming sync host")

	stopCmd := &cobra.Command{
		Use:   "sync-stop",
		Short: "Release an account from a sync host",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetInt64("id")
			host, _ := cmd.Flags().GetString("host")
			return postAPI("/v1/accounts/sync_stop", map[string]any{
				"account_id": id, "host": host,
			})
		},
	}
	stopCmd.Flags().Int64("id", 0, "Account ID")
	stopCmd.Flags().String("host", "", "Releasing sync host")

	accountCmd.AddCommand(createCmd, enableCmd, assignCmd, startCmd, stopCmd)
	return accountCmd
}

func postAPI(path string, body any) error {
	b, _ := json.Marshal(body)
	resp, err := http.Post(apiURL()+path, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Println("status:", resp.Status)
	if len(bytes.TrimSpace(out)) > 0 {
		fmt.Println(string(bytes.TrimSpace(out)))
	}
	return nil
}

func apiURL() string {
	if v := os.Getenv("SYNCD_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
