package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hybridrag/hybridrag/internal/config"
	"github.com/hybridrag/hybridrag/internal/creds"
	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

func newProfileSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile-switch <offline|online|admin>",
		Short: "Switch the security mode and persist it to the config file",
		Long: `Set security.mode in the config file. Offline restricts the network gate
to loopback; online allows the configured remote endpoint; admin lifts the
gate for maintenance and is never the default. Switching to online or admin
checks credential status and warns when boot would downgrade.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := config.Mode(args[0])
			switch mode {
			case config.ModeOffline, config.ModeOnline, config.ModeAdmin:
			default:
				return rgerrors.New(rgerrors.ErrCodeInvalidInput,
					fmt.Sprintf("unknown mode %q", args[0]), nil).
					WithRemedy("pass offline, online, or admin")
			}

			if configPath == "" {
				return rgerrors.New(rgerrors.ErrCodeConfigNotFound,
					"profile-switch needs a config file to persist the mode", nil).
					WithRemedy("pass --config with the path to the config file")
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg.Security.Mode = mode
			if err := cfg.Save(configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mode set to %s\n", mode)

			if mode != config.ModeOffline {
				bundle, _ := creds.NewResolver(&cfg.Remote, logger).Resolve()
				if !bundle.Complete() {
					fmt.Fprintln(cmd.ErrOrStderr(),
						"warning: credentials are incomplete; boot will downgrade to offline")
				}
			}
			return nil
		},
	}
}
