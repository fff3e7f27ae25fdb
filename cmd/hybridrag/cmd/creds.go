package cmd

import (
	"bufio"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hybridrag/hybridrag/internal/creds"
)

func newCredStoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cred-store <field> [value]",
		Short: "Store a remote API credential in the OS keystore",
		Long: `Store one credential field (api_key, endpoint, deployment, api_version)
in the OS keystore. When the value is omitted it is read from stdin, which
keeps secrets out of the shell history.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			field := args[0]
			var value string
			if len(args) == 2 {
				value = args[1]
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "value for %s: ", field)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if scanner.Scan() {
					value = strings.TrimSpace(scanner.Text())
				}
			}
			if value == "" {
				return fmt.Errorf("empty value for %s", field)
			}

			resolver := creds.NewResolver(&cfg.Remote, logger)
			if err := resolver.Store(field, value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s (%s)\n", field, creds.Mask(value))
			return nil
		},
	}
}

func newCredStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cred-status",
		Short: "Show where each credential field resolves from",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			prov := creds.NewResolver(&cfg.Remote, logger).Status()
			fields := make([]string, 0, len(prov))
			for f := range prov {
				fields = append(fields, f)
			}
			sort.Strings(fields)

			out := cmd.OutOrStdout()
			for _, f := range fields {
				fmt.Fprintf(out, "%-12s %s\n", f, prov[f])
			}
			return nil
		},
	}
}

func newCredClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cred-clear",
		Short: "Remove all stored credentials from the OS keystore",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := creds.NewResolver(&cfg.Remote, logger).Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "credentials cleared")
			return nil
		},
	}
}
