package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tiger4589/cqrs-lib"
	"github.com/tiger4589/cqrs-lib/internal/user"
)

func newUserCommand(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(
		newUserAddCommand(opts),
		newUserGetCommand(opts),
		newUserListCommand(opts),
		newUserDeleteCommand(opts),
	)
	return cmd
}

func newUserAddCommand(opts Options) *cobra.Command {
	var name, email string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := cqrs.ExecuteResult[uuid.UUID](cmd.Context(), opts.Dispatcher,
				user.AddUserCommand{Name: name, Email: email})
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]uuid.UUID{"id": id})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "user name")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newUserGetCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			result, err := cqrs.Retrieve[user.GetUserQueryResult](cmd.Context(), opts.Dispatcher, user.GetUserQuery{ID: id})
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}

func newUserListCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := cqrs.Retrieve[user.GetUsersQueryResult](cmd.Context(), opts.Dispatcher, user.GetUsersQuery{})
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}

func newUserDeleteCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := cqrs.Execute(cmd.Context(), opts.Dispatcher, user.DeleteUserCommand{ID: id}); err != nil {
				return err
			}
			return printJSON(cmd, map[string]uuid.UUID{"id": id})
		},
	}
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id %q: %w", s, err)
	}
	return id, nil
}
