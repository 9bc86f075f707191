package main

import (
	"fmt"

	"github.com/provtrack/repostore/internal/repostore"
	"github.com/provtrack/repostore/internal/syncengine"
	"github.com/spf13/cobra"
)

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <collection>...",
		Short: "Copy remote collections into the local cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			results := make([]*syncengine.Result, 0, len(args))
			for _, name := range args {
				res, err := store.Pull(cmd.Context(), name)
				if err != nil {
					return err
				}
				results = append(results, res)
			}
			return printJSON(cmd, results)
		},
	}
}

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push <collection>...",
		Short: "Write cached collections to the remote",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			results := make([]*syncengine.Result, 0, len(args))
			for _, name := range args {
				res, err := store.Push(cmd.Context(), name)
				if err != nil {
					return err
				}
				results = append(results, res)
			}
			return printJSON(cmd, results)
		},
	}
}

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Back up every known collection now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			results, err := store.BackupNow(cmd.Context())
			if results != nil {
				if perr := printJSON(cmd, results); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func newModeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "mode [local-only|hybrid|remote-primary]",
		Short:     "Show or change the sync mode",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(syncengine.LocalOnly), string(syncengine.Hybrid), string(syncengine.RemotePrimary)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				mode, err := syncengine.ParseMode(args[0])
				if err != nil {
					return err
				}
				if err := store.SetSyncMode(mode); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), store.SyncMode())
			return err
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "migrate <collection>...",
		Short: "Move inline files of collections to repository blobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			store, err := openStore(cmd, repostore.WithMigrationConcurrency(concurrency))
			if err != nil {
				return err
			}
			defer store.Close()

			for _, name := range args {
				res, err := store.Migrate(cmd.Context(), name)
				if res != nil {
					if perr := printJSON(cmd, res); perr != nil {
						return perr
					}
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 1, "parallel uploads")
	return cmd
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check that the repository is reachable and writable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			info, err := store.Probe(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd, info); err != nil {
				return err
			}
			switch {
			case !info.BranchExists:
				return fmt.Errorf("branch %q does not exist in %s", info.Branch, info.FullName)
			case !info.CanPush:
				return fmt.Errorf("token cannot write to %s", info.FullName)
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync mode and the cached collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := store.Status()
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
}

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local cache",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.ClearCache()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "cleared %d collections\n", n)
			return err
		},
	})
	return cacheCmd
}
