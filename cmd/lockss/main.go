package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"lockss-go/internal/app"
	"lockss-go/internal/config"
	"lockss-go/internal/repository"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a LockssApp. The caller must defer a.Close().
// operation identifies the command being run (e.g. "RegisterAU", "Verify").
func newApp(operation string) (*app.LockssApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewLockssApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// withApp runs fn against a new app and folds the Close error into the result.
func withApp(operation string, fn func(a *app.LockssApp) error) (err error) {
	a, err := newApp(operation)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

var rootCmd = &cobra.Command{
	Use:          "lockss",
	Short:        "Preservation repository with content verification",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])
		cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: defaults["base_dir"]}
		cfg.Collections = []config.CollectionConfig{{
			Type:   "filesystem",
			Name:   "local",
			FSRoot: filepath.Join(defaults["base_dir"], "collections", "local"),
		}}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:      %s\n", cfg.HostID)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Algorithm:    %s\n", orNone(cfg.Verification.Algorithm))
		fmt.Printf("Encryption:   %s\n", cfg.Encryption.Type)
		fmt.Printf("Compression:  %s\n", cfg.Compression.Type)
		for _, c := range cfg.Collections {
			fmt.Printf("Collection:   %s (%s)\n", c.Name, c.Type)
		}
		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the sealing key pair",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the sealing key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("InitKeys", func(a *app.LockssApp) error {
			if err := a.InitKeys(); err != nil {
				return err
			}
			fmt.Println("Sealing keys generated.")
			return nil
		})
	},
}

// au command
var auCmd = &cobra.Command{
	Use:   "au",
	Short: "Manage archival units",
}

var auAddCmd = &cobra.Command{
	Use:   "add ID BASE_URL",
	Short: "Register an archival unit",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		return withApp("RegisterAU", func(a *app.LockssApp) error {
			au, err := a.RegisterAU(args[0], name, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s (%s)\n", au.ID, au.BaseURL)
			return nil
		})
	},
}

var auListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archival units",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("ListAUs", func(a *app.LockssApp) error {
			aus, err := a.ListAUs()
			if err != nil {
				return err
			}
			if len(aus) == 0 {
				fmt.Println("No archival units registered.")
				return nil
			}
			for _, au := range aus {
				status := "?"
				if state, err := a.AuState(cmd.Context(), au.ID); err == nil {
					status = state.SubscriptionStatus.String()
				}
				fmt.Printf("%-24s  %-14s  %s\n", au.ID, status, au.BaseURL)
			}
			return nil
		})
	},
}

var auImportCmd = &cobra.Command{
	Use:   "import [TITLES_FILE]",
	Short: "Register archival units from a title list",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("ImportTitles", func(a *app.LockssApp) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				defaults, err := app.GetDefaults()
				if err != nil {
					return err
				}
				cfg, err := config.ReadFromFile(defaults["config_path"])
				if err != nil {
					return err
				}
				path = cfg.TitlesPath
			}
			added, err := a.ImportTitles(path)
			if err != nil {
				return err
			}
			fmt.Printf("Registered %d archival unit(s)\n", added)
			return nil
		})
	},
}

// fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch AU URL",
	Short: "Fetch a URL and store it as a new version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("Fetch", func(a *app.LockssApp) error {
			v, err := a.Fetch(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(repository.Describe(v))
			return nil
		})
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify [AU]",
	Short: "Verify stored content against its checksums",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			return errors.New("give either an AU or --all")
		}
		return withApp("Verify", func(a *app.LockssApp) error {
			if !all {
				res, err := a.Verify(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printVerify(args[0], res.Checked, res.Skipped, res.Mismatched)
				if !res.OK() {
					return fmt.Errorf("%d mismatched file(s)", len(res.Mismatched))
				}
				return nil
			}

			results, err := a.VerifyAll(cmd.Context())
			if err != nil {
				return err
			}
			bad := 0
			for id, res := range results {
				printVerify(id, res.Checked, res.Skipped, res.Mismatched)
				bad += len(res.Mismatched)
			}
			if bad > 0 {
				return fmt.Errorf("%d mismatched file(s)", bad)
			}
			return nil
		})
	},
}

func printVerify(auID string, checked, skipped, mismatched []string) {
	fmt.Printf("%s: %d checked, %d skipped, %d mismatched\n", auID, len(checked), len(skipped), len(mismatched))
	for _, url := range mismatched {
		fmt.Printf("  MISMATCH %s\n", url)
	}
}

// schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule AU",
	Short: "Run a background hash audit of an AU",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("Schedule", func(a *app.LockssApp) error {
			ok, err := a.Schedule(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("hash scheduler refused the audit")
			}
			fmt.Println("Audit scheduled; waiting for it to finish.")
			return nil
		})
	},
}

// versions command
var versionsCmd = &cobra.Command{
	Use:   "versions AU URL",
	Short: "List the versions of a URL",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("Versions", func(a *app.LockssApp) error {
			versions, err := a.Versions(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			for _, v := range versions {
				sum, _ := v.Checksum()
				fmt.Printf("%s  %s  %s\n", v.CommittedAt.Format("2006-01-02 15:04:05"), repository.Describe(v), sum)
			}
			return nil
		})
	},
}

func versionCmd(use, short, operation string, undelete bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " AU URL VERSION",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[2], err)
			}
			return withApp(operation, func(a *app.LockssApp) error {
				if undelete {
					return a.Undelete(cmd.Context(), args[0], args[1], number)
				}
				return a.Delete(cmd.Context(), args[0], args[1], number)
			})
		},
	}
}

// size command
var sizeCmd = &cobra.Command{
	Use:   "size AU [URL]",
	Short: "Show the content size of an AU or subtree",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		allVersions, _ := cmd.Flags().GetBool("all-versions")
		return withApp("Size", func(a *app.LockssApp) error {
			url := ""
			if len(args) == 2 {
				url = args[1]
			}
			size, err := a.Size(cmd.Context(), args[0], url, allVersions)
			if err != nil {
				return err
			}
			fmt.Printf("%d bytes\n", size)
			return nil
		})
	},
}

// disks command
var disksCmd = &cobra.Command{
	Use:   "disks",
	Short: "Show collection usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("Disks", func(a *app.LockssApp) error {
			for _, d := range a.Disks() {
				if d.Err != nil {
					fmt.Printf("%-16s  error: %v\n", d.Name, d.Err)
					continue
				}
				fmt.Printf("%-16s  %-5s  %5.1f%%  used %d\n", d.Name, d.Level, d.Usage.PercentUsed, d.Usage.Used)
			}
			return nil
		})
	},
}

// repairs command
var repairsCmd = &cobra.Command{
	Use:   "repairs",
	Short: "Inspect the repair poll queue",
}

var repairsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued repair polls",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp("Repairs", func(a *app.LockssApp) error {
			reqs, err := a.Repairs(limit)
			if err != nil {
				return err
			}
			if len(reqs) == 0 {
				fmt.Println("No repair polls queued.")
				return nil
			}
			for _, r := range reqs {
				fmt.Printf("#%d  %-24s  %-6s  %-8s  %s\n", r.ID, r.AuID, r.Priority, r.State,
					r.RequestedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		})
	},
}

// damage command
var damageCmd = &cobra.Command{
	Use:   "damage",
	Short: "Inspect URLs that failed verification",
}

var damageListCmd = &cobra.Command{
	Use:   "list [AU]",
	Short: "List damaged URLs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("Damage", func(a *app.LockssApp) error {
			auID := ""
			if len(args) == 1 {
				auID = args[0]
			}
			records, err := a.Damage(auID)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No damage recorded.")
				return nil
			}
			for _, r := range records {
				fmt.Printf("%s  %-24s  %s\n", r.ReportedAt.Format("2006-01-02 15:04:05"), r.AuID, r.URL)
			}
			return nil
		})
	},
}

var damageClearCmd = &cobra.Command{
	Use:   "clear AU URL",
	Short: "Forget a damage record after repair",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp("ClearDamage", func(a *app.LockssApp) error {
			return a.ClearDamage(args[0], args[1])
		})
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp("History", func(a *app.LockssApp) error {
			ops, err := a.History(limit)
			if err != nil {
				return err
			}
			if len(ops) == 0 {
				fmt.Println("No operations recorded.")
				return nil
			}
			for _, op := range ops {
				duration := ""
				if !op.FinishedAt.IsZero() {
					duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
				}
				fmt.Printf("#%d  %-15s  %s  %-10s  %-10s  %s\n",
					op.ID,
					op.Operation,
					op.StartedAt.Format("2006-01-02 15:04:05"),
					op.Status,
					duration,
					op.Parameters,
				)
			}
			return nil
		})
	},
}

// daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Periodically audit every AU and serve metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return withApp("Daemon", func(a *app.LockssApp) error {
			err := a.Daemon(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysInitCmd)

	auCmd.AddCommand(auAddCmd)
	auAddCmd.Flags().String("name", "", "Display name (defaults to the ID)")
	auCmd.AddCommand(auListCmd)
	auCmd.AddCommand(auImportCmd)

	verifyCmd.Flags().Bool("all", false, "Verify every registered AU")
	sizeCmd.Flags().Bool("all-versions", false, "Count every version, not only the latest")

	repairsCmd.AddCommand(repairsListCmd)
	repairsListCmd.Flags().IntP("limit", "n", 50, "Maximum number of requests to show")

	damageCmd.AddCommand(damageListCmd)
	damageCmd.AddCommand(damageClearCmd)

	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(auCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(versionCmd("delete", "Mark a version deleted", "Delete", false))
	rootCmd.AddCommand(versionCmd("undelete", "Restore a deleted version", "Undelete", true))
	rootCmd.AddCommand(sizeCmd)
	rootCmd.AddCommand(disksCmd)
	rootCmd.AddCommand(repairsCmd)
	rootCmd.AddCommand(damageCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(daemonCmd)
}
