package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fastygo/identity/internal/app"
	"github.com/fastygo/identity/internal/security/password"
)

func hashPasswordCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin with the configured algorithm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), password.MaxPasswordBytes+2))
			if err != nil {
				return err
			}
			plaintext := strings.TrimRight(string(raw), "\r\n")
			if plaintext == "" {
				return errors.New("no password on stdin")
			}

			hasher, err := app.NewHasher(e.cfg.Password)
			if err != nil {
				return err
			}
			encoded, err := hasher.Hash(plaintext)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return nil
		},
	}
}
