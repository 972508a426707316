// Package ledger tracks the lifecycle of every URL the scheduler has seen.
// It is the process-wide dedup record: a URL is queued at most once
// concurrently, and the snapshot feeds checkpoints and diagnostics.
package ledger

import (
	"sort"
	"sync"
)

// State is the lifecycle position of a URL.
type State string

const (
	// StateNew means the URL has never been submitted.
	StateNew State = "new"
	// StateQueued means the URL is dedup-registered but not yet fetched.
	StateQueued State = "queued"
	// StateInFlight means a network call is outstanding.
	StateInFlight State = "in_flight"
	// StateTimedOut means the last attempt failed transiently.
	StateTimedOut State = "timed_out"
	// StateCompleted means fetch and continuation both succeeded.
	StateCompleted State = "completed"
	// StateAbandoned means every attempt timed out; the URL may be resubmitted.
	StateAbandoned State = "abandoned"
)

// Ledger is safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	states   map[string]State
	timedOut map[string]struct{}
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		states:   make(map[string]State),
		timedOut: make(map[string]struct{}),
	}
}

// Preload marks urls as completed, typically from the visited-links table,
// so a restarted crawl does not refetch finished work.
func (l *Ledger) Preload(urls []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, u := range urls {
		l.states[u] = StateCompleted
	}
}

// State reports the current state of a URL.
func (l *Ledger) State(url string) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.states[url]
	if !ok {
		return StateNew
	}
	return s
}

// TryQueue registers a URL for fetching. It returns false when the URL is
// already queued, in flight, or completed; timed-out and abandoned entries
// may be re-queued. With force set, registration always succeeds.
func (l *Ledger) TryQueue(url string, force bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !force {
		switch l.states[url] {
		case StateQueued, StateInFlight, StateCompleted:
			return false
		}
	}
	l.states[url] = StateQueued
	return true
}

// MarkInFlight records that a network call for url is outstanding.
func (l *Ledger) MarkInFlight(url string) {
	l.setState(url, StateInFlight)
}

// MarkTimedOut records a transient failure; the URL stays eligible for retry
// and joins the timed-out diagnostic set.
func (l *Ledger) MarkTimedOut(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[url] = StateTimedOut
	l.timedOut[url] = struct{}{}
}

// Abandon records that the attempt budget is exhausted. The entry leaves the
// queued tracking so an unrelated caller may submit the URL again later.
func (l *Ledger) Abandon(url string) {
	l.setState(url, StateAbandoned)
}

// MarkCompleted records full success and clears the timed-out flag.
func (l *Ledger) MarkCompleted(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[url] = StateCompleted
	delete(l.timedOut, url)
}

// Release drops the entry entirely, making the URL submittable as if never
// seen. The scheduler uses this after recoverable persistence failures.
func (l *Ledger) Release(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.states, url)
	delete(l.timedOut, url)
}

func (l *Ledger) setState(url string, s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[url] = s
}

// Snapshot is a point-in-time view of the ledger for checkpoints, the status
// command, and the diagnostics server.
type Snapshot struct {
	Counts   map[State]int `yaml:"counts" json:"counts"`
	Queued   []string      `yaml:"queued" json:"queued"`
	TimedOut []string      `yaml:"timed_out" json:"timed_out"`
}

// Snapshot returns current counts by state plus the queued and timed-out URL
// sets, sorted for stable output.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{Counts: make(map[State]int)}
	for url, s := range l.states {
		snap.Counts[s]++
		if s == StateQueued || s == StateInFlight {
			snap.Queued = append(snap.Queued, url)
		}
	}
	for url := range l.timedOut {
		snap.TimedOut = append(snap.TimedOut, url)
	}
	sort.Strings(snap.Queued)
	sort.Strings(snap.TimedOut)
	return snap
}
