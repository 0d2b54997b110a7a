package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/calinsight/pkg/directory"
	"github.com/otherjamesbrown/calinsight/pkg/logging"
)

// NewDirectoryCommand creates the directory command group.
func NewDirectoryCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Organizational directory commands",
		Long: `Manage the organizational directory used to enrich meetings with the
division, department and manager flag of their owner and attendees.

The directory source is chosen by directory.source: none, file (a YAML mapping)
or database (the users table).`,
		Aliases: []string{"dir"},
	}

	cmd.AddCommand(newDirectoryImportCommand(deps))
	cmd.AddCommand(newDirectoryLookupCommand(deps))

	return cmd
}

func newDirectoryImportCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import a YAML directory file into the users table",
		Long: `Read a YAML directory file and upsert every user entry into the users
table. Existing users are updated in place. Per-domain defaults in the file
are not imported.

File format:
  users:
    - email: ana@example.com
      division: Product
      department: Engineering
      subdepartment: Platform
      manager: true`,
		Example: `  calinsight directory import people.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDirectoryImport(cmd.Context(), cmd.OutOrStdout(), deps, args[0])
		},
	}
}

func newDirectoryLookupCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:     "lookup EMAIL",
		Short:   "Resolve an email through the configured directory",
		Example: `  calinsight directory lookup ana@example.com -o json`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDirectoryLookup(cmd.Context(), cmd.OutOrStdout(), deps, args[0])
		},
	}
}

func runDirectoryImport(ctx context.Context, out io.Writer, deps *Deps, path string) error {
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	static, err := directory.LoadStatic(path)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}

	// Make sure the users table exists when it lives in the meetings database.
	if cfg.Directory.DatabaseURL == "" {
		st, err := deps.openStore(ctx, true)
		if err != nil {
			return err
		}
		st.Close()
	}

	sqlDir, closeFn, err := openSQLDirectory(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := sqlDir.Upsert(ctx, static.Entries())
	if err != nil {
		return fmt.Errorf("importing users: %w", err)
	}
	deps.logger().Info("directory imported", logging.F("path", path), logging.F("users", n))

	if ok, err := WriteStructured(out, cfg.OutputFormat, map[string]any{"imported": n, "file": path}); ok {
		return err
	}
	fmt.Fprintf(out, "%sImported %d user(s)%s from %s\n", colorGreen, n, colorReset, path)
	return nil
}

func runDirectoryLookup(ctx context.Context, out io.Writer, deps *Deps, email string) error {
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	rdb := deps.redis()
	if rdb != nil {
		defer rdb.Close()
	}
	dir, err := openDirectory(ctx, cfg, rdb, deps.logger())
	if err != nil {
		return err
	}
	defer dir.Close()

	info, err := dir.Resolve(ctx, email)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", email, err)
	}

	if ok, err := WriteStructured(out, cfg.OutputFormat, info); ok {
		return err
	}
	known := colorGreen + "yes" + colorReset
	if !info.Known {
		known = colorYellow + "no" + colorReset
	}
	fmt.Fprintf(out, "Email:          %s\n", info.Email)
	fmt.Fprintf(out, "Known:          %s\n", known)
	fmt.Fprintf(out, "Division:       %s\n", info.Division)
	fmt.Fprintf(out, "Department:     %s\n", info.Department)
	fmt.Fprintf(out, "Subdepartment:  %s\n", info.Subdepartment)
	fmt.Fprintf(out, "Manager:        %t\n", info.IsManager)
	return nil
}
