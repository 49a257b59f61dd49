package main

import (
	"errors"
	"fmt"
	"os"

	accounts "github.com/goliatone/go-accounts"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var cliActor = accounts.ActorRef{ID: "accountsctl", Type: "cli"}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.openDB(); err != nil {
				return err
			}
			if err := accounts.RunMigrations(a.sqlDB); err != nil {
				return err
			}
			version, err := accounts.MigrationVersion(a.sqlDB)
			if err != nil {
				return err
			}
			return a.print(map[string]any{"version": version})
		},
	}
}

func newCreateCmd(a *app) *cobra.Command {
	var req accounts.ProvisioningRequest
	var role string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision an account and print its temporary credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.init(cmd.Context()); err != nil {
				return err
			}
			req.Role = accounts.Role(role)
			result, err := a.service.CreateUserHandler().Provision(cmd.Context(), cliActor, req)
			if err != nil {
				return err
			}
			return a.print(result)
		},
	}

	cmd.Flags().StringVar(&req.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&req.FullName, "name", "", "Full name")
	cmd.Flags().StringVar(&role, "role", string(accounts.RoleMember), "Role (member, administrator)")
	cmd.Flags().StringVar(&req.MembershipTier, "tier", "", "Membership tier")
	cmd.Flags().StringVar(&req.MembershipStatus, "status", "", "Membership status")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "Phone number")
	cmd.Flags().StringVar(&req.AddressLine1, "address1", "", "Address line 1")
	cmd.Flags().StringVar(&req.AddressLine2, "address2", "", "Address line 2")
	cmd.Flags().StringVar(&req.City, "city", "", "City")
	cmd.Flags().StringVar(&req.Country, "country", "", "Country (ISO 3166 alpha-2)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

type importOutcome struct {
	Email      string `json:"email" yaml:"email"`
	IdentityID string `json:"identity_id,omitempty" yaml:"identity_id,omitempty"`
	Code       string `json:"code,omitempty" yaml:"code,omitempty"`
	Secret     string `json:"secret,omitempty" yaml:"secret,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newImportCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Provision every account listed in a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}

			var requests []accounts.ProvisioningRequest
			if err := yaml.Unmarshal(raw, &requests); err != nil {
				return fmt.Errorf("parse import file: %w", err)
			}
			if len(requests) == 0 {
				return errors.New("import file has no accounts")
			}

			if err := a.init(cmd.Context()); err != nil {
				return err
			}

			outcomes := make([]importOutcome, 0, len(requests))
			var failed int
			for _, req := range requests {
				outcome := importOutcome{Email: req.Email}
				result, err := a.service.CreateUserHandler().Provision(cmd.Context(), cliActor, req)
				if err != nil {
					failed++
					outcome.Error = err.Error()
				} else {
					outcome.IdentityID = result.IdentityID
					outcome.Code = result.Profile.Code()
					outcome.Secret = result.Credential.Secret
				}
				outcomes = append(outcomes, outcome)
			}

			if err := a.print(outcomes); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d accounts failed to provision", failed, len(requests))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with a list of accounts")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// deletionOutput flattens a summary for printing, errors become strings.
type deletionOutput struct {
	IdentityID     string            `json:"identity_id" yaml:"identity_id"`
	ProfileKind    string            `json:"profile_kind" yaml:"profile_kind"`
	IdentityStatus string            `json:"identity_status" yaml:"identity_status"`
	Cleanup        map[string]string `json:"cleanup" yaml:"cleanup"`
	Warning        string            `json:"warning,omitempty" yaml:"warning,omitempty"`
}

func cleanupOutput(outcomes []accounts.CleanupOutcome) map[string]string {
	out := make(map[string]string, len(outcomes))
	for _, o := range outcomes {
		if o.Failed() {
			out[o.Resource] = o.Err.Error()
			continue
		}
		out[o.Resource] = fmt.Sprintf("%d rows", o.Affected)
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete IDENTITY_ID",
		Short: "Deprovision one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.init(cmd.Context()); err != nil {
				return err
			}

			summary, err := a.service.DeleteUserHandler().Delete(cmd.Context(), cliActor, args[0])
			if summary != nil {
				if pErr := a.print(deletionOutput{
					IdentityID:     summary.IdentityID,
					ProfileKind:    summary.ProfileKind.String(),
					IdentityStatus: string(summary.IdentityStatus),
					Cleanup:        cleanupOutput(summary.Cleanup),
					Warning:        errString(summary.Warning),
				}); pErr != nil {
					return pErr
				}
			}
			return err
		},
	}
}

type bulkDeletionOutput struct {
	Requested          int               `json:"requested" yaml:"requested"`
	Deleted            int               `json:"deleted" yaml:"deleted"`
	DeletedIDs         []string          `json:"deleted_ids" yaml:"deleted_ids"`
	NotFound           []string          `json:"not_found" yaml:"not_found"`
	ResidualIdentities map[string]string `json:"residual_identities,omitempty" yaml:"residual_identities,omitempty"`
	Cleanup            map[string]string `json:"cleanup" yaml:"cleanup"`
	Warning            string            `json:"warning,omitempty" yaml:"warning,omitempty"`
}

func newBulkDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-delete IDENTITY_ID...",
		Short: "Deprovision a set of accounts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.init(cmd.Context()); err != nil {
				return err
			}

			summary, err := a.service.BulkDeleteUsersHandler().BulkDelete(cmd.Context(), cliActor, args)
			if err != nil {
				return err
			}

			out := bulkDeletionOutput{
				Requested:  summary.Requested,
				Deleted:    summary.Deleted,
				DeletedIDs: summary.DeletedIDs,
				NotFound:   summary.NotFound,
				Cleanup:    cleanupOutput(summary.Cleanup),
				Warning:    errString(summary.Warning),
			}
			if len(summary.ResidualIdentities) > 0 {
				out.ResidualIdentities = make(map[string]string, len(summary.ResidualIdentities))
				for id, rErr := range summary.ResidualIdentities {
					out.ResidualIdentities[id] = errString(rErr)
				}
			}
			return a.print(out)
		},
	}
}

func newRotateCmd(a *app) *cobra.Command {
	var current, next string

	cmd := &cobra.Command{
		Use:   "rotate IDENTITY_ID",
		Short: "Replace the credential of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.init(cmd.Context()); err != nil {
				return err
			}

			result, err := a.service.RotateCredentialHandler().Rotate(cmd.Context(), cliActor, args[0], current, next)
			if err != nil {
				return err
			}
			return a.print(result)
		},
	}

	cmd.Flags().StringVar(&current, "current", "", "Current credential")
	cmd.Flags().StringVar(&next, "next", "", "New credential")
	_ = cmd.MarkFlagRequired("next")

	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := yaml.Marshal(a.config.redacted())
			if err != nil {
				return fmt.Errorf("failed to marshal config to YAML: %w", err)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}
