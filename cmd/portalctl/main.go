// Command portalctl runs one-off maintenance tasks against the portal
// database and the managed nginx.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/Armour007/portal-backend/internal/config"
	"github.com/Armour007/portal-backend/internal/nginx"
	"github.com/Armour007/portal-backend/internal/registry"
	"github.com/Armour007/portal-backend/internal/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg *config.Config
	root := &cobra.Command{
		Use:           "portalctl",
		Short:         "Maintenance tasks for the service portal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load()
			if err != nil {
				return err
			}
			c.ConfigureLogging()
			if _, err := database.Connect(cmd.Context(), c.DB.DSN()); err != nil {
				return err
			}
			cfg = c
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			database.Close()
		},
	}

	var password string
	createAdmin := &cobra.Command{
		Use:   "create-admin",
		Short: "Create the admin@<ALLOWED_DOMAIN> account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("PORTAL_ADMIN_PASSWORD")
			}
			return createAdminUser(cmd.Context(), registry.New(database.DB), cfg.AllowedDomain, password, cmd.OutOrStdout())
		},
	}
	createAdmin.Flags().StringVar(&password, "password", "", "admin password (default $PORTAL_ADMIN_PASSWORD)")

	var logDir string
	render := &cobra.Command{
		Use:   "render <service-id>",
		Short: "Print the nginx fragment for a registered service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderService(cmd.Context(), registry.New(database.DB), nginx.Renderer{LogDir: logDir}, args[0], cmd.OutOrStdout())
		},
	}
	render.Flags().StringVar(&logDir, "log-dir", "", "emit per-service access and error logs under this directory")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Rewrite every fragment from the registry and reload nginx",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, closeCtl, err := nginx.NewController(cfg.Nginx.Controller, cfg.Nginx.Container, cfg.Nginx.TestCmd, cfg.Nginx.ReloadCmd)
			if err != nil {
				return err
			}
			defer closeCtl()
			s := nginx.NewSynthesizer(cfg.Nginx.ServicesDir, ctl, nginx.Renderer{LogDir: logDir})
			return syncAll(cmd.Context(), registry.New(database.DB), s, cmd.OutOrStdout())
		},
	}
	syncCmd.Flags().StringVar(&logDir, "log-dir", "", "emit per-service access and error logs under this directory")

	root.AddCommand(createAdmin, render, syncCmd)
	return root
}

func createAdminUser(ctx context.Context, st *registry.Store, domain, password string, out io.Writer) error {
	email := "admin@" + domain
	if ok, reason := utils.ValidatePassword(password, email); !ok {
		return fmt.Errorf("admin password rejected: %s", reason)
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return err
	}
	u, err := st.CreateUser(ctx, email, hash, true, database.UserApproved)
	if errors.Is(err, registry.ErrConflict) {
		fmt.Fprintf(out, "%s already exists\n", email)
		return nil
	}
	if err != nil {
		return err
	}
	log.WithField("user_id", u.ID).Info("admin account created")
	fmt.Fprintf(out, "created %s\n", email)
	return nil
}

func renderService(ctx context.Context, st *registry.Store, r nginx.Renderer, id string, out io.Writer) error {
	svc, err := st.ServiceByID(ctx, id)
	if err != nil {
		return err
	}
	b, err := r.Render(svc)
	if err != nil {
		return err
	}
	_, err = out.Write(b)
	return err
}

func syncAll(ctx context.Context, st *registry.Store, s *nginx.Synthesizer, out io.Writer) error {
	services, err := st.ListServices(ctx)
	if err != nil {
		return err
	}
	if err := s.SyncAll(ctx, services); err != nil {
		return err
	}
	fmt.Fprintf(out, "synced %d services\n", len(services))
	return nil
}
