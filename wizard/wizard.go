// Package wizard steps a new member through drink, barber, booking, review and
// payment.
package wizard

import (
	"strings"
	"sync"
	"time"

	"github.com/armonempire/portal/checkout"
	"github.com/armonempire/portal/models"
	"github.com/armonempire/portal/portalclient"
	"github.com/armonempire/portal/profilesync"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Step is a page of the wizard.
type Step int

const (
	DrinkPreference Step = iota
	BarberSelection
	AppointmentBooking
	ReviewSelections
	Checkout
)

// Steps is the fixed order the wizard walks.
var Steps = []Step{DrinkPreference, BarberSelection, AppointmentBooking, ReviewSelections, Checkout}

func (s Step) String() string {
	switch s {
	case DrinkPreference:
		return "drink_preference"
	case BarberSelection:
		return "barber_selection"
	case AppointmentBooking:
		return "appointment_booking"
	case ReviewSelections:
		return "review_selections"
	case Checkout:
		return "checkout"
	default:
		return "unknown"
	}
}

// FormState is what the member has entered so far. It is never sent as is;
// Fields and Order pick the parts each collaborator needs.
type FormState struct {
	WantsDrink      bool
	DOB             string
	Photo           *portalclient.Photo
	DrinkOfChoice   string
	PreferredBarber string
	Appointments    []models.Appointment
}

// HasPhoto reports whether a photo was picked in this session.
func (f FormState) HasPhoto() bool {
	return f.Photo != nil && len(f.Photo.Data) > 0
}

// Bookings is the live appointment mirror, usually a *reconciler.Reconciler.
type Bookings interface {
	Appointments() []models.Appointment
	Count() int
}

// Wizard owns the step cursor and the form. Advance only moves when the
// current step is complete.
type Wizard struct {
	tier     models.Tier
	bookings Bookings
	clock    clockwork.Clock
	log      *zap.Logger

	onExit          func()
	onEnterCheckout func(FormState)
	onStep          func(Step)

	mu         sync.Mutex
	step       Step
	form       FormState
	photoSaved bool
	exited     bool
}

func New(tier models.Tier, bookings Bookings) *Wizard {
	return &Wizard{
		tier:     models.ParseTier(string(tier)),
		bookings: bookings,
		clock:    clockwork.NewRealClock(),
		log:      zap.NewNop(),
	}
}

func (w *Wizard) WithClock(c clockwork.Clock) *Wizard {
	if c != nil {
		w.clock = c
	}
	return w
}

func (w *Wizard) WithLogger(log *zap.Logger) *Wizard {
	if log != nil {
		w.log = log
	}
	return w
}

// WithOnExit is called when Retreat leaves the first step.
func (w *Wizard) WithOnExit(fn func()) *Wizard {
	w.onExit = fn
	return w
}

// WithOnEnterCheckout is started in its own goroutine each time the wizard
// reaches Checkout. The wizard neither waits for it nor looks at its result.
func (w *Wizard) WithOnEnterCheckout(fn func(FormState)) *Wizard {
	w.onEnterCheckout = fn
	return w
}

// WithOnStep observes every step change.
func (w *Wizard) WithOnStep(fn func(Step)) *Wizard {
	w.onStep = fn
	return w
}

// Prefill copies the saved preferences into the form.
func (w *Wizard) Prefill(p models.Profile) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.form.PreferredBarber = p.PreferredBarber
	w.form.DrinkOfChoice = p.DrinkOfChoice
	w.form.WantsDrink = p.WantsDrink || p.DrinkOfChoice != ""
	w.form.DOB = p.DOB
	w.form.Appointments = append([]models.Appointment(nil), p.Appointments...)
	w.photoSaved = portalclient.HasPhoto(p)
}

// Update edits the form in place.
func (w *Wizard) Update(fn func(*FormState)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.form)
}

// Form returns a copy of the form with the live appointment list.
func (w *Wizard) Form() FormState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.formLocked()
}

func (w *Wizard) formLocked() FormState {
	f := w.form
	if w.bookings != nil {
		f.Appointments = w.bookings.Appointments()
	} else {
		f.Appointments = append([]models.Appointment(nil), w.form.Appointments...)
	}
	return f
}

// Step is the current step.
func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// Exited reports whether the member backed out of the first step.
func (w *Wizard) Exited() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exited
}

// Tier is the membership being set up.
func (w *Wizard) Tier() models.Tier {
	return w.tier
}

// RequiredAppointments is how many bookings the tier needs before payment.
func (w *Wizard) RequiredAppointments() int {
	return w.tier.RequiredAppointments()
}

// CompletedAppointments is the live booking count.
func (w *Wizard) CompletedAppointments() int {
	if w.bookings == nil {
		return 0
	}
	return w.bookings.Count()
}

// Age is the member's age today. ok is false when no valid date of birth has
// been entered.
func (w *Wizard) Age() (age int, ok bool) {
	w.mu.Lock()
	dob := w.form.DOB
	w.mu.Unlock()
	return ageOn(dob, w.clock.Now())
}

func ageOn(dob string, now time.Time) (int, bool) {
	dob = strings.TrimSpace(dob)
	if dob == "" {
		return 0, false
	}
	t, err := time.Parse(models.DateLayout, dob)
	if err != nil {
		return 0, false
	}
	return models.AgeOn(t, now), true
}

// CanAdvance reports whether the current step is complete.
func (w *Wizard) CanAdvance() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canAdvanceLocked()
}

func (w *Wizard) canAdvanceLocked() bool {
	switch w.step {
	case DrinkPreference:
		return w.drinkComplete()
	case BarberSelection, ReviewSelections:
		return w.form.PreferredBarber != ""
	case AppointmentBooking:
		return w.form.PreferredBarber != "" && w.CompletedAppointments() >= w.RequiredAppointments()
	default:
		return false
	}
}

// drinkComplete is true when the member skipped the drink, or is of age with
// a date of birth, a photo and a drink chosen.
func (w *Wizard) drinkComplete() bool {
	if !w.form.WantsDrink {
		return true
	}
	age, ok := ageOn(w.form.DOB, w.clock.Now())
	if !ok || age < models.LegalDrinkingAge {
		return false
	}
	if !w.form.HasPhoto() && !w.photoSaved {
		return false
	}
	return w.form.DrinkOfChoice != ""
}

// Advance moves to the next step when the current one is complete and
// reports whether it moved.
func (w *Wizard) Advance() bool {
	w.mu.Lock()
	if w.exited || w.step == Checkout || !w.canAdvanceLocked() {
		w.mu.Unlock()
		return false
	}
	w.step++
	step := w.step
	form := w.formLocked()
	w.mu.Unlock()

	w.log.Debug("wizard advanced", zap.Stringer("step", step))
	w.entered(step, form)
	return true
}

// Retreat moves back one step. From the first step it leaves the wizard and
// reports exited.
func (w *Wizard) Retreat() (exited bool) {
	w.mu.Lock()
	if w.exited {
		w.mu.Unlock()
		return true
	}
	if w.step == DrinkPreference {
		w.exited = true
		w.mu.Unlock()
		w.log.Debug("wizard exited")
		if w.onExit != nil {
			w.onExit()
		}
		return true
	}
	w.step--
	step := w.step
	form := w.formLocked()
	w.mu.Unlock()

	w.entered(step, form)
	return false
}

func (w *Wizard) entered(step Step, form FormState) {
	if w.onStep != nil {
		w.onStep(step)
	}
	if step == Checkout && w.onEnterCheckout != nil {
		go w.onEnterCheckout(form)
	}
}

// Fields is the profile edit to save. The drink is dropped when the member
// opted out.
func (f FormState) Fields() profilesync.Fields {
	out := profilesync.Fields{
		PreferredBarber: f.PreferredBarber,
		Photo:           f.Photo,
	}
	if f.WantsDrink {
		out.DrinkOfChoice = f.DrinkOfChoice
	}
	return out
}

// Order is what checkout needs from the wizard.
func (w *Wizard) Order(email string) checkout.Order {
	return checkout.Order{Email: email, Membership: w.tier}
}
