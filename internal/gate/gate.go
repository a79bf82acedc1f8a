// Package gate decides which screen group a client must be on given its
// session and household state.
package gate

import (
	"context"
	"strings"
	"sync"
)

const (
	GroupAuth       = "(auth)"
	GroupTabs       = "(tabs)"
	SegOnboarding   = "onboarding"
	SegHome         = "home"
	locationDivider = "/"
)

// Route is a sequence of route-group segments, e.g. Route{"(tabs)", "home"}.
// The empty route is the app root, which is also the unauthenticated entry.
type Route []string

var (
	RouteRoot       = Route{}
	RouteOnboarding = Route{SegOnboarding}
	RouteHome       = Route{GroupTabs, SegHome}
)

// ParseRoute splits "/(tabs)/home" or "(tabs)/home" into segments.
func ParseRoute(s string) Route {
	out := Route{}
	for _, p := range strings.Split(s, locationDivider) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r Route) String() string { return locationDivider + strings.Join(r, locationDivider) }

func (r Route) Equal(o Route) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if r[i] != o[i] {
			return false
		}
	}
	return true
}

func (r Route) inGroup(g string) bool { return len(r) > 0 && r[0] == g }

func (r Route) has(seg string) bool {
	for _, s := range r {
		if s == seg {
			return true
		}
	}
	return false
}

// State is the status of one asynchronously loaded resource.
type State struct {
	Present bool `json:"present"`
	Loading bool `json:"loading"`
}

// Input holds everything the gate looks at.
type Input struct {
	Session   State `json:"session"`
	Household State `json:"household"`
	Location  Route `json:"location"`
}

func (in Input) equal(o Input) bool {
	return in.Session == o.Session && in.Household == o.Household && in.Location.Equal(o.Location)
}

// Phase is the navigation phase derived from an Input.
type Phase string

const (
	PhaseUnknown         Phase = "unknown"
	PhaseUnauthenticated Phase = "unauthenticated"
	PhaseNeedsOnboarding Phase = "needs_onboarding"
	PhaseActive          Phase = "active"
)

// PhaseOf derives the phase. It reports PhaseUnknown while either resource is
// still loading so no decision is ever made from stale data.
func PhaseOf(in Input) Phase {
	switch {
	case in.Session.Loading || in.Household.Loading:
		return PhaseUnknown
	case !in.Session.Present:
		return PhaseUnauthenticated
	case !in.Household.Present:
		return PhaseNeedsOnboarding
	default:
		return PhaseActive
	}
}

// Decision is the result of evaluating an Input.
type Decision struct {
	Phase    Phase `json:"phase"`
	Redirect bool  `json:"redirect"`
	Target   Route `json:"target,omitempty"`
}

// Decide evaluates the redirect rules in order; the first match wins.
func Decide(in Input) Decision {
	d := Decision{Phase: PhaseOf(in)}
	switch {
	case in.Session.Loading || in.Household.Loading:
		return d
	case !in.Session.Present && in.Location.inGroup(GroupTabs):
		d.Redirect, d.Target = true, RouteRoot
	case in.Session.Present && !in.Household.Present && !in.Location.has(SegOnboarding):
		d.Redirect, d.Target = true, RouteOnboarding
	case in.Session.Present && in.Household.Present && (in.Location.inGroup(GroupAuth) || len(in.Location) == 0):
		d.Redirect, d.Target = true, RouteHome
	}
	return d
}

// Navigator performs a replace navigation; the screen being left must not be
// reachable through back navigation.
type Navigator interface {
	Replace(ctx context.Context, to Route) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, to Route) error

func (f NavigatorFunc) Replace(ctx context.Context, to Route) error { return f(ctx, to) }

// Gate re-evaluates its rules whenever an observed input differs from the
// previous one and drives a Navigator with the outcome.
type Gate struct {
	nav Navigator

	mu       sync.Mutex
	last     Input
	observed bool
}

func New(nav Navigator) *Gate { return &Gate{nav: nav} }

// Observe evaluates in if it differs from the last recorded input. The input
// is recorded only once any redirect it calls for has succeeded, so a failed
// navigation is attempted again on the next Observe. The returned decision is
// zero when nothing changed.
func (g *Gate) Observe(ctx context.Context, in Input) (Decision, error) {
	g.mu.Lock()
	if g.observed && g.last.equal(in) {
		g.mu.Unlock()
		return Decision{}, nil
	}
	g.mu.Unlock()

	d := Decide(in)
	if d.Redirect {
		if err := g.nav.Replace(ctx, d.Target); err != nil {
			return d, err
		}
	}

	g.mu.Lock()
	g.last = Input{Session: in.Session, Household: in.Household, Location: append(Route{}, in.Location...)}
	g.observed = true
	g.mu.Unlock()
	return d, nil
}

// Last returns the most recently observed input.
func (g *Gate) Last() (Input, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.observed
}
