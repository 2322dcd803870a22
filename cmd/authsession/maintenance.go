package main

import (
	"fmt"

	auth "github.com/goliatone/go-auth-session"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func migrateCmd(envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(*envFiles)
			if err != nil {
				return err
			}
			defer app.Close()

			applied, err := auth.Migrate(cmd.Context(), app.db)
			if err != nil {
				return err
			}

			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func revokeCmd(envFiles *[]string) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Sign an account out of every device",
		RunE: func(cmd *cobra.Command, args []string) error {
			publicID, err := uuid.Parse(account)
			if err != nil {
				return errors.Wrap(err, errors.CategoryCLI, "--account must be an account id")
			}

			app, err := loadApp(*envFiles)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			acc, err := app.repo.Accounts().GetByPublicID(ctx, publicID)
			if err != nil {
				return err
			}

			revoked, err := app.sessions.LogoutEverywhere(ctx, acc.ID)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d sessions of %s\n", revoked, acc.Username)
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "public id of the account")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func purgeCmd(envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired refresh tokens and consumed registrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(*envFiles)
			if err != nil {
				return err
			}
			defer app.Close()

			tokens, registrations, err := app.sessions.Purge(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "purged %d refresh tokens, %d registrations\n", tokens, registrations)
			return nil
		},
	}
}

func configCmd(envFiles *[]string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the loaded configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print the configuration with secrets omitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := auth.LoadConfig(*envFiles...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), print.MaybeHighlightJSON(cfg))
			return nil
		},
	})

	return cmd
}
