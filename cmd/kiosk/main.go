// Command kiosk walks a signed-in member through onboarding on the shop's
// front-desk terminal, against a running portal server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/armonempire/portal/checkout"
	"github.com/armonempire/portal/logger"
	"github.com/armonempire/portal/portalclient"
	"github.com/armonempire/portal/profilesync"
	"github.com/armonempire/portal/reconciler"
	"github.com/armonempire/portal/session"
	"github.com/armonempire/portal/wizard"
	"go.uber.org/zap"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.Init(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, log *zap.Logger) error {
	sess := session.New()
	client, err := portalclient.New(portalclient.Config{BaseURL: cfg.PortalURL, Logger: log.Named("portal")}, sess)
	if err != nil {
		return err
	}
	if _, err := client.Login(ctx, cfg.Email, cfg.Password); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	defer func() {
		if err := client.Logout(context.Background()); err != nil {
			log.Warn("logout failed", zap.Error(err))
		}
	}()

	sdk := newStripeSDK(cfg.StripePublishableKey, cfg.PaymentMethod).WithBaseURL(cfg.StripeURL)
	flow, err := wizard.StartFlow(ctx, wizard.FlowConfig{
		Profile: profilesync.New(client, log.Named("profile")).WithSession(sess),
		Updates: reconciler.NewStream(client.UpdatesURL).WithLogger(log.Named("updates")),
		Payment: checkout.New(sdk, client).WithLogger(log.Named("checkout")),
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	defer flow.Close()

	return newConsole(flow, os.Stdout).run(ctx, os.Stdin)
}
