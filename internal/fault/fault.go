// Package fault injects the faults selected by the developer toggles into
// guarded HTTP routes.
package fault

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/0xReLogic/Hypnos/internal/logging"
	"github.com/0xReLogic/Hypnos/internal/toggle"
)

// Fault kinds, also used as metric labels.
const (
	KindSleep     = "sleep"
	KindMisbehave = "misbehave"
)

// HeaderFault names the fault applied to a response.
const HeaderFault = "X-Hypnos-Fault"

var faultsInjected = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hypnos_faults_injected_total",
	Help: "Faults injected into guarded requests",
}, []string{"kind"})

// Flags is the read side of the developer toggles.
type Flags interface {
	IsMisbehaving() bool
	IsSleeping() bool
}

type Settings struct {
	SleepDuration time.Duration
	StatusCode    int
}

// Injector wraps handlers with the currently selected faults. Settings can
// be swapped while requests are in flight.
type Injector struct {
	flags Flags

	mu       sync.RWMutex
	settings Settings
}

func NewInjector(flags Flags, settings Settings) *Injector {
	return &Injector{flags: flags, settings: normalize(settings)}
}

func normalize(s Settings) Settings {
	if s.StatusCode == 0 {
		s.StatusCode = http.StatusInternalServerError
	}
	if s.SleepDuration < 0 {
		s.SleepDuration = 0
	}
	return s
}

func (i *Injector) Settings() Settings {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.settings
}

// Update replaces the settings used by requests that start afterwards.
func (i *Injector) Update(s Settings) {
	i.mu.Lock()
	i.settings = normalize(s)
	i.mu.Unlock()
}

// Wrap returns a handler that sleeps while the sleep flag is on, then fails
// while the misbehave flag is on, and otherwise calls next. The misbehave
// flag is read after the sleep so a request parked across /behave recovers.
func (i *Injector) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s := i.Settings()

		if i.flags.IsSleeping() && s.SleepDuration > 0 {
			record(r, KindSleep, zap.Duration("delay", s.SleepDuration))
			start := time.Now()
			timer := time.NewTimer(s.SleepDuration)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				logging.LogSleepInterrupted(ctx, r.URL.Path, time.Since(start), ctx.Err())
				return
			}
			w.Header().Set(HeaderFault, KindSleep)
		}

		if i.flags.IsMisbehaving() {
			record(r, KindMisbehave, zap.Int("status", s.StatusCode))
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set(HeaderFault, KindMisbehave)
			w.WriteHeader(s.StatusCode)
			_, _ = io.WriteString(w, toggle.MisbehavingText)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func record(r *http.Request, kind string, detail zap.Field) {
	faultsInjected.WithLabelValues(kind).Inc()
	trace.SpanFromContext(r.Context()).AddEvent("fault_injected", trace.WithAttributes(
		attribute.String("kind", kind),
	))
	logging.LogFaultInjected(r.Context(), kind, r.URL.Path, detail)
}
