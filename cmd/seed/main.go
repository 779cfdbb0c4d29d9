package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"maintenance-portal/service-desk-backend/internal/auth"
	"maintenance-portal/service-desk-backend/internal/config"
	"maintenance-portal/service-desk-backend/internal/database"
	"maintenance-portal/service-desk-backend/internal/observability"
	"maintenance-portal/service-desk-backend/internal/workflow"
)

// env carries what every subcommand needs
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
	repo   workflow.Repository
}

func main() {
	var configPath string
	e := &env{}

	root := &cobra.Command{
		Use:           "seed",
		Short:         "Service desk database administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.open(configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to the JSON config file")

	root.AddCommand(
		migrateCommand(e),
		seedCommand(e),
		createUserCommand(e),
		createSectionCommand(e),
		createProviderCommand(e),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (e *env) open(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.Database, cfg.Logging.Development)
	if err != nil {
		return err
	}
	e.cfg, e.logger, e.db = cfg, logger, db
	e.repo = workflow.NewRepository(db)
	return nil
}

func migrateCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := database.Migrate(e.db); err != nil {
				return err
			}
			e.logger.Info("Schema migrated")
			return nil
		},
	}
}

func seedCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "defaults",
		Short: "Create the default stations and pipelines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine := workflow.NewEngine(e.repo, workflow.NopPublisher{}, nil, e.logger, workflow.DefaultEngineConfig())
			result, err := engine.Topology().SeedDefaults(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stations created: %d, pipelines created: %d\n",
				result.StationsCreated, result.PipelinesCreated)
			return nil
		},
	}
}

func createUserCommand(e *env) *cobra.Command {
	var (
		user      workflow.User
		password  string
		groups    []string
		superuser bool
	)
	cmd := &cobra.Command{
		Use:   "createuser USERNAME",
		Short: "Create a user who can log in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user.Username = args[0]
			user.IsSuperuser = superuser
			user.Groups = groups
			if password != "" {
				hash, err := auth.HashPassword(password)
				if err != nil {
					return fmt.Errorf("failed to hash password: %w", err)
				}
				user.PasswordHash = hash
			}
			if err := e.repo.CreateUser(cmd.Context(), &user); err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s created with id %s\n", user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "login password")
	cmd.Flags().StringVar(&user.FullName, "full-name", "", "display name")
	cmd.Flags().StringVar(&user.Phone, "phone", "", "phone number used for chat and SMS notifications")
	cmd.Flags().StringVar(&user.Email, "email", "", "email address used for SES notifications")
	cmd.Flags().StringSliceVar(&groups, "groups", nil, "comma separated group names, e.g. SP,SP_ADMIN")
	cmd.Flags().BoolVar(&superuser, "superuser", false, "grant superuser rights")
	return cmd
}

func createSectionCommand(e *env) *cobra.Command {
	var managers []string
	cmd := &cobra.Command{
		Use:   "createsection NAME",
		Short: "Create a section with its managers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := e.lookupUsers(cmd.Context(), managers)
			if err != nil {
				return err
			}
			section := workflow.Section{Name: args[0], Managers: users}
			if err := e.repo.CreateSection(cmd.Context(), &section); err != nil {
				return fmt.Errorf("failed to create section: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "section %s created with id %s\n", section.Name, section.ID)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&managers, "managers", nil, "comma separated manager usernames")
	return cmd
}

func createProviderCommand(e *env) *cobra.Command {
	var managers []string
	cmd := &cobra.Command{
		Use:   "createprovider NAME",
		Short: "Create a service provider with its managers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := e.lookupUsers(cmd.Context(), managers)
			if err != nil {
				return err
			}
			provider := workflow.ServiceProvider{Name: args[0], Managers: users}
			if err := e.repo.CreateServiceProvider(cmd.Context(), &provider); err != nil {
				return fmt.Errorf("failed to create service provider: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "service provider %s created with id %s\n", provider.Name, provider.ID)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&managers, "managers", nil, "comma separated manager usernames")
	return cmd
}

func (e *env) lookupUsers(ctx context.Context, usernames []string) ([]workflow.User, error) {
	users := make([]workflow.User, 0, len(usernames))
	for _, name := range usernames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		u, err := e.repo.GetUserByUsername(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("manager %q: %w", name, err)
		}
		users = append(users, *u)
	}
	return users, nil
}
