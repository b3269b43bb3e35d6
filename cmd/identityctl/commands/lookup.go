package commands

import (
	"github.com/spf13/cobra"

	identityUC "github.com/fastygo/identity/usecase/identity"
)

func lookupCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <email|id>",
		Short: "Print an identity, looked up by email when the argument contains '@'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := e.context(cmd)
			defer cancel()

			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			identity, err := identityUC.NewResolver(store, e.logger).Lookup(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), identity)
		},
	}
}
