package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/harun/oni/pkg/export"
	"github.com/harun/oni/pkg/session"
	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored chat sessions",
	}

	cmd.AddCommand(
		newSessionsListCmd(),
		newSessionsShowCmd(),
		newSessionsCreateCmd(),
		newSessionsClearCmd(),
		newSessionsDeleteCmd(),
		newSessionsExportCmd(),
		newSessionsImportCmd(),
	)

	return cmd
}

// keyFlags binds --guild, --user and optionally --name to a command.
type keyFlags struct {
	guild string
	user  string
	name  string
}

func (f *keyFlags) bind(cmd *cobra.Command, withName bool) {
	cmd.Flags().StringVar(&f.guild, "guild", "", "guild id")
	cmd.Flags().StringVar(&f.user, "user", "", "user id")
	_ = cmd.MarkFlagRequired("guild")
	_ = cmd.MarkFlagRequired("user")
	if withName {
		cmd.Flags().StringVar(&f.name, "name", "", "session name (default from sessions.default_name)")
	}
}

func (f *keyFlags) key(env *environment) session.Key {
	name := f.name
	if name == "" {
		name = env.config.Sessions.DefaultName
	}
	return session.NewKey(f.guild, f.user, name)
}

// withEnvironment runs fn against an opened environment and closes it afterwards.
func withEnvironment(fn func(ctx context.Context, env *environment) error) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	runErr := fn(context.Background(), env)
	if err := env.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func newSessionsListCmd() *cobra.Command {
	var flags keyFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's saved sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(func(ctx context.Context, env *environment) error {
				names := env.manager.List(ctx, flags.guild, flags.user)
				out := cmd.OutOrStdout()
				if len(names) == 0 {
					fmt.Fprintln(out, "No saved sessions")
					return nil
				}
				for _, name := range names {
					fmt.Fprintln(out, name)
				}
				return nil
			})
		},
	}
	flags.bind(cmd, false)

	return cmd
}

func newSessionsShowCmd() *cobra.Command {
	var flags keyFlags

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a session transcript as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(func(ctx context.Context, env *environment) error {
				key := flags.key(env)
				if err := key.Validate(); err != nil {
					return err
				}
				if !env.manager.Exists(ctx, key) {
					return fmt.Errorf("session %q not found", key.Name)
				}
				t, err := env.manager.Load(ctx, key)
				if err != nil {
					return err
				}
				return export.WriteSession(cmd.OutOrStdout(), t)
			})
		},
	}
	flags.bind(cmd, true)

	return cmd
}

func newSessionsCreateCmd() *cobra.Command {
	var flags keyFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(func(ctx context.Context, env *environment) error {
				key := flags.key(env)
				if err := env.manager.Create(ctx, key); err != nil {
					return err
				}
				// A new session is only cached; persist it so it outlives this process.
				if err := env.manager.Update(ctx, key, session.Transcript{}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created session %q\n", key.Name)
				return nil
			})
		},
	}
	flags.bind(cmd, true)

	return cmd
}

func newSessionsClearCmd() *cobra.Command {
	var flags keyFlags

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Empty a session's transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(func(ctx context.Context, env *environment) error {
				key := flags.key(env)
				if err := env.manager.Clear(ctx, key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared session %q\n", key.Name)
				return nil
			})
		},
	}
	flags.bind(cmd, true)

	return cmd
}

func newSessionsDeleteCmd() *cobra.Command {
	var flags keyFlags

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(func(ctx context.Context, env *environment) error {
				key := flags.key(env)
				if err := env.manager.Delete(ctx, key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %q\n", key.Name)
				return nil
			})
		},
	}
	flags.bind(cmd, true)

	return cmd
}

func newSessionsExportCmd() *cobra.Command {
	var (
		user string
		name string
		out  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export sessions as JSON or a zip archive",
		Long: `With --name, export one session of --user (from any guild) as JSON to --out or stdout.
Without --name, write a zip archive of every session of --user, or of all users
when --user is empty, into the directory --out (default: current directory).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnvironment(func(ctx context.Context, env *environment) error {
				if name != "" {
					return exportSession(ctx, cmd, env, user, name, out)
				}
				return exportArchive(ctx, cmd, env, user, out)
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "session name")
	cmd.Flags().StringVar(&out, "out", "", "output file (single session) or directory (archive)")

	return cmd
}

func exportSession(ctx context.Context, cmd *cobra.Command, env *environment, user, name, out string) error {
	if user == "" {
		return fmt.Errorf("--user is required with --name")
	}
	t, ok := env.manager.ExportUser(ctx, user, name)
	if !ok {
		return fmt.Errorf("session %q not found for user %s", name, user)
	}

	if out == "" {
		return export.WriteSession(cmd.OutOrStdout(), t)
	}

	var buf bytes.Buffer
	if err := export.WriteSession(&buf, t); err != nil {
		return err
	}
	if err := os.WriteFile(out, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported session %q to %s\n", name, out)
	return nil
}

func exportArchive(ctx context.Context, cmd *cobra.Command, env *environment, user, dir string) error {
	all := env.manager.ExportAll(ctx)
	if user != "" {
		all = export.FilterUser(all, user)
	}
	if all.Count() == 0 {
		return fmt.Errorf("no sessions to export")
	}

	fileName, err := export.ArchiveName(user)
	if err != nil {
		return err
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	target := filepath.Join(dir, fileName)

	var buf bytes.Buffer
	if err := export.WriteArchive(&buf, all); err != nil {
		return err
	}
	if err := os.WriteFile(target, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d sessions to %s\n", all.Count(), target)
	return nil
}

func newSessionsImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <archive.zip>",
		Short: "Import sessions from an export archive",
		Long:  "Import every session of an archive written by 'oni sessions export'. Sessions with the same key are replaced.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read archive: %w", err)
			}
			sessions, err := export.ReadArchive(data)
			if err != nil {
				return err
			}

			return withEnvironment(func(ctx context.Context, env *environment) error {
				imported, failed := env.manager.Import(ctx, sessions)
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d sessions (%d failed)\n", imported, failed)
				if failed > 0 {
					return fmt.Errorf("%d sessions could not be imported", failed)
				}
				return nil
			})
		},
	}

	return cmd
}
