package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fastygo/identity/domain"
	identityUC "github.com/fastygo/identity/usecase/identity"
)

func setActiveCmd(e *env) *cobra.Command {
	var active bool

	cmd := &cobra.Command{
		Use:   "set-active <email|id>",
		Short: "Enable or disable sign-in for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := e.context(cmd)
			defer cancel()

			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			resolver := identityUC.NewResolver(store, e.logger)
			identity, err := resolver.Resolve(ctx, args[0])
			if err != nil {
				return err
			}

			n, err := store.SetActive(ctx, identity.ID, active)
			if err != nil {
				return err
			}
			if n == 0 {
				return domain.ErrIdentityNotFound
			}
			e.logger.Info("identity updated", zap.String("id", identity.ID), zap.Bool("active", active))

			identity.Active = active
			return printJSON(cmd.OutOrStdout(), identity.Public())
		},
	}
	cmd.Flags().BoolVar(&active, "active", true, "whether the identity may sign in")
	return cmd
}
