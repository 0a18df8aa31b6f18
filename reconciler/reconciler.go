package reconciler

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/armonempire/portal/models"
	"go.uber.org/zap"
)

// Source delivers raw push channel payloads to handle until ctx ends.
type Source interface {
	Run(ctx context.Context, handle func(data []byte)) error
}

// Reconciler owns the local appointment list and booking count.
type Reconciler struct {
	mu       sync.Mutex
	list     []models.Appointment
	counter  int
	policy   CounterPolicy
	closed   bool
	onChange func(list []models.Appointment, count int)
	log      *zap.Logger
}

// New starts from an initial list, usually the profile's appointments.
func New(initial []models.Appointment) *Reconciler {
	list := make([]models.Appointment, 0, len(initial))
	for _, a := range initial {
		if a.Status.Active() || a.Status == models.StatusCompleted {
			list = append(list, a)
		}
	}
	return &Reconciler{
		list:    list,
		counter: len(list),
		log:     zap.NewNop(),
	}
}

func (r *Reconciler) WithCounterPolicy(p CounterPolicy) *Reconciler {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
	return r
}

func (r *Reconciler) WithLogger(log *zap.Logger) *Reconciler {
	if log != nil {
		r.log = log
	}
	return r
}

// WithOnChange registers a callback run after every applied event. It is
// called with the reconciler's lock released.
func (r *Reconciler) WithOnChange(fn func(list []models.Appointment, count int)) *Reconciler {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
	return r
}

// Handle applies one event. It returns false when the event was dropped or
// the reconciler is closed.
func (r *Reconciler) Handle(ev Event) bool {
	if err := ev.Validate(); err != nil {
		r.log.Warn("dropping appointment event", zap.Error(err), zap.String("status", string(ev.Appointment.Status)))
		return false
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.list = Apply(r.list, ev)
	r.counter = AdjustCounter(r.counter, ev)
	list, count, fn := r.snapshotLocked(), r.countLocked(), r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn(list, count)
	}
	return true
}

// HandleRaw decodes and applies one payload. Malformed payloads are logged
// and dropped.
func (r *Reconciler) HandleRaw(data []byte) bool {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		r.log.Warn("dropping malformed appointment event", zap.Error(err), zap.ByteString("payload", data))
		return false
	}
	return r.Handle(ev)
}

// Run feeds events from src until it returns, then closes the reconciler.
func (r *Reconciler) Run(ctx context.Context, src Source) error {
	defer r.Close()
	return src.Run(ctx, func(data []byte) { r.HandleRaw(data) })
}

// Close stops all further mutation. Events that arrive later are ignored.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Appointments returns a copy of the current list.
func (r *Reconciler) Appointments() []models.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Count is the booking count under the configured policy.
func (r *Reconciler) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked()
}

func (r *Reconciler) snapshotLocked() []models.Appointment {
	out := make([]models.Appointment, len(r.list))
	copy(out, r.list)
	return out
}

func (r *Reconciler) countLocked() int {
	if r.policy == Independent {
		return r.counter
	}
	return len(r.list)
}
