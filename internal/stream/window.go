// Package stream implements the tumbling/sliding/session window
// processor of §4.6: watermark-driven window completion over event-time
// facts, generalized from internal/eventbus/streams.go's handler/
// stream dispatch map (named channels, each independently driven,
// publishing completed work once ready) generalized from event dispatch
// to time-windowed fact aggregation.
package stream

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ledgerrules/rete/internal/types"
)

// State is a window's position in its lifecycle. This three-state model
// (rather than spec.md's single "Completion" paragraph) is supplemented
// from original_source/ per DESIGN.md: Open accumulates events; Closed
// means the watermark has passed the window's end and it is eligible for
// aggregation; Finalized means a caller has retrieved it and it is now
// eligible for cleanup. The Open/Closed split alone cannot express
// invariant (ii) of §4.6 ("the same event cannot be double-counted
// within one window") across repeated caller reads of the same closed
// window without this third state.
type State int

const (
	Open State = iota
	Closed
	Finalized
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Finalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Window is one time-bounded (and, for session windows, key-bounded)
// accumulation of facts.
type Window struct {
	ID     string
	Key    string
	Start  time.Time
	End    time.Time
	Facts  []*types.Fact
	State  State
}

// Processor maintains one named window's state machine: ingestion,
// watermark advancement, and completion/finalization/cleanup.
type Processor struct {
	spec        types.WindowSpec
	maxLateness time.Duration

	watermark time.Time
	windows   map[string]*Window
	// sessionLast tracks, per key, the most recently extended session
	// window, so a new event within GapTimeout extends it rather than
	// opening a new one.
	sessionLast map[string]*Window

	lateEventsDropped uint64

	js nats.JetStreamContext
}

// NewProcessor constructs a Processor for the given window spec and
// maximum out-of-order lateness tolerated before an event is dropped.
func NewProcessor(spec types.WindowSpec, maxLateness time.Duration) *Processor {
	return &Processor{
		spec:        spec,
		maxLateness: maxLateness,
		windows:     make(map[string]*Window),
		sessionLast: make(map[string]*Window),
	}
}

// SetJetStream attaches a JetStream context that window-close events are
// published to, mirroring eventbus.Bus.SetJetStream: publishing is
// optional, additive to AdvanceWatermark's own closed-window return
// value, and never the only way a caller learns a window closed.
func (p *Processor) SetJetStream(js nats.JetStreamContext) {
	p.js = js
}

// JetStreamEnabled reports whether a JetStream context is attached.
func (p *Processor) JetStreamEnabled() bool {
	return p.js != nil
}

// windowClosedEvent is the payload published to JetStream when a window
// closes, named the way eventbus's published events carry a stable
// subject and a JSON body.
type windowClosedEvent struct {
	WindowID  string    `json:"window_id"`
	Key       string    `json:"key"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	FactCount int       `json:"fact_count"`
}

// windowClosedSubject is the JetStream subject window-close events
// publish to, mirroring eventbus.SubjectForEvent's fixed-prefix naming.
const windowClosedSubject = "rulesengine.stream.window_closed"

func (p *Processor) publishWindowClosed(w *Window) {
	if p.js == nil {
		return
	}
	data, err := json.Marshal(windowClosedEvent{
		WindowID:  w.ID,
		Key:       w.Key,
		Start:     w.Start,
		End:       w.End,
		FactCount: len(w.Facts),
	})
	if err != nil {
		log.Printf("stream: failed to marshal window-closed event for %s: %v", w.ID, err)
		return
	}
	if _, err := p.js.Publish(windowClosedSubject, data); err != nil {
		log.Printf("stream: JetStream publish to %s failed: %v", windowClosedSubject, err)
	}
}

// Ingest assigns fact (observed at ts, grouped under key) to the
// appropriate window(s), per §4.6 invariant (i): a fact contributes to
// every window it overlaps for Sliding, exactly one window for Tumbling
// and Session. It reports true if the event was dropped as late.
func (p *Processor) Ingest(key string, ts time.Time, fact *types.Fact) bool {
	if !p.watermark.IsZero() && ts.Before(p.watermark.Add(-p.maxLateness)) {
		p.lateEventsDropped++
		return true
	}

	switch p.spec.Kind {
	case types.WindowTumbling:
		size := millis(p.spec.Size)
		start := ts.Truncate(size)
		p.addToWindow(key, start, start.Add(size), fact)
	case types.WindowSliding:
		size := millis(p.spec.Size).Nanoseconds()
		advance := millis(p.spec.Advance).Nanoseconds()
		tsNano := ts.UnixNano()
		// The event belongs to every window [start, start+size) whose
		// start is a multiple of advance; walk backwards from the
		// latest such start until windows can no longer contain ts.
		latestStart := (tsNano / advance) * advance
		for start := latestStart; start > tsNano-size; start -= advance {
			if start <= tsNano && tsNano < start+size {
				startT := time.Unix(0, start)
				p.addToWindow(key, startT, startT.Add(time.Duration(size)), fact)
			}
		}
	case types.WindowSession:
		gap := millis(p.spec.GapTimeout)
		last := p.sessionLast[key]
		// last.End already holds (most recent event's ts + gap): the
		// deadline by which the next event must arrive to extend this
		// session rather than start a new one (§8 invariant 6).
		if last != nil && !ts.After(last.End) {
			last.Facts = append(last.Facts, fact)
			if ts.Add(gap).After(last.End) {
				last.End = ts.Add(gap)
			}
			return false
		}
		w := &Window{
			ID:    fmt.Sprintf("%s|%d", key, ts.UnixNano()),
			Key:   key,
			Start: ts,
			End:   ts.Add(gap),
			Facts: []*types.Fact{fact},
			State: Open,
		}
		p.windows[w.ID] = w
		p.sessionLast[key] = w
	}
	return false
}

func (p *Processor) addToWindow(key string, start, end time.Time, fact *types.Fact) {
	id := fmt.Sprintf("%s|%d|%d", key, start.UnixNano(), end.UnixNano())
	w, ok := p.windows[id]
	if !ok {
		w = &Window{ID: id, Key: key, Start: start, End: end, State: Open}
		p.windows[id] = w
	}
	w.Facts = append(w.Facts, fact)
}

// AdvanceWatermark moves the processor's watermark forward (a no-op if t
// is not after the current watermark) and closes every window whose End
// the new watermark has passed, returning the newly closed windows.
func (p *Processor) AdvanceWatermark(t time.Time) []*Window {
	if !t.After(p.watermark) {
		return nil
	}
	p.watermark = t

	var closed []*Window
	for _, w := range p.windows {
		if w.State == Open && p.watermark.After(w.End) {
			w.State = Closed
			closed = append(closed, w)
			p.publishWindowClosed(w)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].Start.Before(closed[j].Start) })
	return closed
}

// Flush force-closes every still-Open window regardless of watermark.
// A caller that constructs one Processor per evaluation cycle (rather
// than keeping it alive across cycles to let watermark advancement
// close windows at their natural end time) has no later opportunity to
// observe a window this cycle's events opened; Flush is how it gets
// every one of them before the Processor is discarded.
func (p *Processor) Flush() []*Window {
	var closed []*Window
	for _, w := range p.windows {
		if w.State == Open {
			w.State = Closed
			closed = append(closed, w)
			p.publishWindowClosed(w)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].Start.Before(closed[j].Start) })
	return closed
}

// CompletedWindows returns every Closed (not yet Finalized) window,
// sorted by start time, for caller consumption (aggregation).
func (p *Processor) CompletedWindows() []*Window {
	var out []*Window
	for _, w := range p.windows {
		if w.State == Closed {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Finalize marks a window consumed, so a subsequent call to
// CompletedWindows no longer returns it (§4.6 invariant (ii)) and it
// becomes eligible for CleanupOldWindows.
func (p *Processor) Finalize(windowID string) {
	if w, ok := p.windows[windowID]; ok {
		w.State = Finalized
	}
}

// CleanupOldWindows deletes Finalized windows whose End is older than
// retainFor relative to the current watermark.
func (p *Processor) CleanupOldWindows(retainFor time.Duration) {
	cutoff := p.watermark.Add(-retainFor)
	for id, w := range p.windows {
		if w.State == Finalized && w.End.Before(cutoff) {
			delete(p.windows, id)
		}
	}
}

// LateEventsDropped reports the running count of events dropped for
// arriving before watermark - maxLateness (§4.6 invariant (iii)).
func (p *Processor) LateEventsDropped() uint64 { return p.lateEventsDropped }

// Watermark returns the processor's current watermark.
func (p *Processor) Watermark() time.Time { return p.watermark }

func millis(d types.DurationMS) time.Duration {
	return time.Duration(d) * time.Millisecond
}

// Manager holds one Processor per named window (§4.6: "Maintains named
// windows"), mirroring eventbus.Bus's map of named stream
// handlers.
type Manager struct {
	processors map[string]*Processor
	js         nats.JetStreamContext
}

// NewManager constructs an empty window manager.
func NewManager() *Manager {
	return &Manager{processors: make(map[string]*Processor)}
}

// SetJetStream attaches a JetStream context that every processor the
// manager creates (now and hereafter) publishes window-close events to.
func (m *Manager) SetJetStream(js nats.JetStreamContext) {
	m.js = js
	for _, p := range m.processors {
		p.SetJetStream(js)
	}
}

// Window returns (creating if absent) the named processor for spec.
func (m *Manager) Window(name string, spec types.WindowSpec, maxLateness time.Duration) *Processor {
	p, ok := m.processors[name]
	if !ok {
		p = NewProcessor(spec, maxLateness)
		p.SetJetStream(m.js)
		m.processors[name] = p
	}
	return p
}

// Get returns the named processor, if it has been created.
func (m *Manager) Get(name string) (*Processor, bool) {
	p, ok := m.processors[name]
	return p, ok
}
