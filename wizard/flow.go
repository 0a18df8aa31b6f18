package wizard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/armonempire/portal/checkout"
	"github.com/armonempire/portal/models"
	"github.com/armonempire/portal/profilesync"
	"github.com/armonempire/portal/reconciler"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// SaveTimeout bounds the background profile save started on entering Checkout.
const SaveTimeout = 30 * time.Second

// Flow is one onboarding visit: the loaded profile, the live bookings, the
// wizard and the payment handshake.
type Flow struct {
	Wizard   *Wizard
	Profile  *profilesync.Synchronizer
	Bookings *reconciler.Reconciler
	Payment  *checkout.Handshake

	email  string
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *zap.Logger
}

// FlowConfig carries the collaborators of a Flow. Clock and Logger are optional.
type FlowConfig struct {
	Profile *profilesync.Synchronizer
	Updates reconciler.Source
	Payment *checkout.Handshake
	Clock   clockwork.Clock
	Logger  *zap.Logger
	OnExit  func()
}

// StartFlow loads the profile and starts listening for appointment updates.
// A load failure is returned as is and nothing is started.
func StartFlow(ctx context.Context, cfg FlowConfig) (*Flow, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	p, err := cfg.Profile.Load(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	f := &Flow{
		Profile:  cfg.Profile,
		Bookings: reconciler.New(p.Appointments).WithLogger(log.Named("reconciler")),
		Payment:  cfg.Payment,
		email:    p.Email,
		cancel:   cancel,
		log:      log,
	}
	f.Wizard = New(p.Membership, f.Bookings).
		WithClock(cfg.Clock).
		WithLogger(log.Named("wizard")).
		WithOnExit(cfg.OnExit).
		WithOnEnterCheckout(f.save)
	f.Wizard.Prefill(p)

	if cfg.Updates != nil {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			if err := f.Bookings.Run(runCtx, cfg.Updates); err != nil && runCtx.Err() == nil {
				log.Warn("appointment updates stopped", zap.Error(err))
			}
		}()
	}
	return f, nil
}

func (f *Flow) save(form FormState) {
	ctx, cancel := context.WithTimeout(context.Background(), SaveTimeout)
	defer cancel()
	_, err := f.Profile.Save(ctx, form.Fields())
	switch {
	case errors.Is(err, profilesync.ErrClosed):
		f.log.Debug("auto-save abandoned, flow closed")
	case err != nil:
		f.log.Warn("auto-save on checkout failed", zap.Error(err))
	}
}

// Pay runs the payment handshake for the wizard's tier.
func (f *Flow) Pay(ctx context.Context) error {
	return f.Payment.Submit(ctx, f.Wizard.Order(f.email))
}

// Membership is the tier being set up.
func (f *Flow) Membership() models.Tier {
	return f.Wizard.Tier()
}

// Close stops the update stream and abandons any profile save or payment in
// flight. Later results do not change the flow's state.
func (f *Flow) Close() {
	f.cancel()
	f.Profile.Close()
	f.Bookings.Close()
	if f.Payment != nil {
		f.Payment.Close()
	}
	f.wg.Wait()
}
