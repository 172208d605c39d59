package progress

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Ning0612/Cargoback/internal/domain"
)

// Max is the percentage of a finished step and of the whole run
const Max = 100

// Step declares one weighted phase of a long-running operation
type Step struct {
	Name string
	// Weight is the share of this step in the total progress
	Weight int
	// FrequencyPercent throttles events: a step reports when its percentage
	// is a multiple of this value or advanced at least this much
	FrequencyPercent int
}

// Event is delivered to listeners when a step reports
type Event struct {
	TotalPercent int
	Max          int
	Step         string
	StepPercent  int
	Completed    int64
	Subtotal     int64
}

// Listener receives progress events. It may be called from several goroutines
// and must not record progress on the step it is notified about.
type Listener func(Event)

type stepState struct {
	Step

	mu           sync.Mutex
	subtotal     int64
	completed    int64
	lastReported int

	// percent is readable without mu for total calculation
	percent atomic.Int64

	// deliverMu orders the events of this step
	deliverMu     sync.Mutex
	lastDelivered int
}

// Tracker aggregates the progress of weighted steps. All methods are safe
// for concurrent use.
type Tracker struct {
	steps       []*stepState
	byName      map[string]*stepState
	totalWeight int

	listenerMu sync.RWMutex
	listeners  []Listener
}

// NewTracker registers steps in declaration order
func NewTracker(steps ...Step) (*Tracker, error) {
	t := &Tracker{byName: make(map[string]*stepState, len(steps))}
	for _, s := range steps {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: step name cannot be empty", domain.ErrInvalidArgument)
		}
		if _, dup := t.byName[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate step %q", domain.ErrInvalidArgument, s.Name)
		}
		if s.Weight <= 0 {
			return nil, fmt.Errorf("%w: step %q needs a positive weight", domain.ErrInvalidArgument, s.Name)
		}
		if s.FrequencyPercent <= 0 || s.FrequencyPercent > Max {
			return nil, fmt.Errorf("%w: step %q report frequency must be within 1..100", domain.ErrInvalidArgument, s.Name)
		}
		st := &stepState{Step: s, subtotal: 1}
		t.steps = append(t.steps, st)
		t.byName[s.Name] = st
		t.totalWeight += s.Weight
	}
	return t, nil
}

// AddListener registers a listener for future events
func (t *Tracker) AddListener(l Listener) {
	t.listenerMu.Lock()
	defer t.listenerMu.Unlock()
	t.listeners = append(t.listeners, l)
}

func (t *Tracker) step(name string) (*stepState, error) {
	s, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown progress step %q", domain.ErrInvalidArgument, name)
	}
	return s, nil
}

// Reset zeroes every step
func (t *Tracker) Reset() {
	for _, s := range t.steps {
		s.reset()
	}
}

// ResetStep zeroes one step
func (t *Tracker) ResetStep(name string) error {
	s, err := t.step(name)
	if err != nil {
		return err
	}
	s.reset()
	return nil
}

func (s *stepState) reset() {
	s.mu.Lock()
	s.subtotal = 1
	s.completed = 0
	s.lastReported = 0
	s.percent.Store(0)
	s.mu.Unlock()

	s.deliverMu.Lock()
	s.lastDelivered = 0
	s.deliverMu.Unlock()
}

// EstimateSubtotal sets the number of sub-steps of a step. Zero is stored as one.
func (t *Tracker) EstimateSubtotal(name string, n int64) error {
	s, err := t.step(name)
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("%w: negative subtotal %d for step %q", domain.ErrInvalidArgument, n, name)
	}
	s.mu.Lock()
	s.subtotal = max(n, 1)
	s.percent.Store(int64(percentOf(s.completed, s.subtotal)))
	s.mu.Unlock()
	return nil
}

// RecordProgress adds n completed sub-steps and reports if the step crossed
// its report threshold
func (t *Tracker) RecordProgress(name string, n int64) error {
	s, err := t.step(name)
	if err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("%w: progress must be positive, got %d", domain.ErrInvalidArgument, n)
	}

	s.mu.Lock()
	s.completed += n
	ev, ok := s.check(false)
	s.mu.Unlock()

	if ok {
		t.deliver(s, ev)
	}
	return nil
}

// CompleteStep marks a step finished and reports it
func (t *Tracker) CompleteStep(name string) error {
	s, err := t.step(name)
	if err != nil {
		return err
	}
	t.complete(s, true)
	return nil
}

// SkipStep marks a step finished without reporting
func (t *Tracker) SkipStep(name string) error {
	s, err := t.step(name)
	if err != nil {
		return err
	}
	t.complete(s, false)
	return nil
}

// CompleteAll completes every step in declaration order
func (t *Tracker) CompleteAll() {
	for _, s := range t.steps {
		t.complete(s, true)
	}
}

func (t *Tracker) complete(s *stepState, report bool) {
	s.mu.Lock()
	s.completed = s.subtotal
	var ev Event
	ok := false
	if report {
		ev, ok = s.check(true)
	} else {
		s.percent.Store(Max)
		s.lastReported = Max
	}
	s.mu.Unlock()

	if ok {
		t.deliver(s, ev)
	}
}

// check updates the step percentage and decides whether to report.
// Must be called with s.mu held.
func (s *stepState) check(force bool) (Event, bool) {
	pct := percentOf(s.completed, s.subtotal)
	s.percent.Store(int64(pct))

	if pct <= s.lastReported {
		return Event{}, false
	}
	if !force && pct != Max && pct%s.FrequencyPercent != 0 && pct-s.lastReported < s.FrequencyPercent {
		return Event{}, false
	}
	s.lastReported = pct
	return Event{
		Max:         Max,
		Step:        s.Name,
		StepPercent: pct,
		Completed:   s.completed,
		Subtotal:    s.subtotal,
	}, true
}

func (t *Tracker) deliver(s *stepState, ev Event) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	// A concurrent caller already delivered a later percentage
	if ev.StepPercent <= s.lastDelivered {
		return
	}
	s.lastDelivered = ev.StepPercent
	ev.TotalPercent = t.TotalPercent()

	t.listenerMu.RLock()
	listeners := append([]Listener(nil), t.listeners...)
	t.listenerMu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

// Percent returns the current percentage of a step
func (t *Tracker) Percent(name string) (int, error) {
	s, err := t.step(name)
	if err != nil {
		return 0, err
	}
	return int(s.percent.Load()), nil
}

// TotalPercent returns the weighted average of all steps
func (t *Tracker) TotalPercent() int {
	if t.totalWeight == 0 {
		return 0
	}
	var sum int64
	for _, s := range t.steps {
		sum += int64(s.Weight) * s.percent.Load()
	}
	w := int64(t.totalWeight)
	return int((2*sum + w) / (2 * w))
}

// percentOf returns round(100*completed/total) clamped to 0..100
func percentOf(completed, total int64) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return Max
	}
	return int((200*completed + total) / (2 * total))
}
