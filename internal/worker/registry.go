// Package worker manages versions of the interceptor: installing a new
// version opens its bucket, activating it hands every new request to it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/iTrooz/offline-cache-proxy/internal/swr"

	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a version
type State int

const (
	StateInstalling State = iota
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Version identifies one generation of cached content
type Version struct {
	Tag    string `json:"tag"`
	Bucket string `json:"bucket"`
}

// BuildFunc creates the interceptor serving a version
type BuildFunc func(Version) (*swr.Interceptor, error)

// Options configures a Registry
type Options struct {
	Store swr.Store
	Build BuildFunc
	// SkipWaiting activates an installed version at once instead of waiting
	// for requests held by the current version to finish.
	SkipWaiting bool
	// OnActivate is called, under the registry lock, when a version takes control.
	OnActivate func(Version)
	Logger     logrus.FieldLogger
}

type registration struct {
	version     Version
	state       State
	interceptor *swr.Interceptor
	leases      int
}

// Registry tracks the active and waiting versions
type Registry struct {
	mu          sync.Mutex
	store       swr.Store
	build       BuildFunc
	skipWaiting bool
	onActivate  func(Version)
	log         logrus.FieldLogger

	active  *registration
	waiting *registration
	// every version ever activated, so Wait can drain their refreshes
	history []*registration
}

func NewRegistry(opts Options) (*Registry, error) {
	if opts.Store == nil || opts.Build == nil {
		return nil, errors.New("worker registry needs a store and a build function")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		store:       opts.Store,
		build:       opts.Build,
		skipWaiting: opts.SkipWaiting,
		onActivate:  opts.OnActivate,
		log:         logger,
	}, nil
}

// Install prepares v and activates it, immediately when skip-waiting is set or
// nothing holds the current version, otherwise once the last lease is released.
// Installing the active version again is a no-op. A newer install replaces a
// version that is still waiting.
func (r *Registry) Install(ctx context.Context, v Version) error {
	if v.Tag == "" || v.Bucket == "" {
		return errors.New("version needs a tag and a bucket")
	}

	r.mu.Lock()
	if r.active != nil && r.active.version == v {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	log := r.log.WithFields(logrus.Fields{"version": v.Tag, "bucket": v.Bucket})
	log.Info("Installing version")

	interceptor, err := r.build(v)
	if err != nil {
		return fmt.Errorf("building interceptor for %s: %w", v.Tag, err)
	}
	if _, err := r.store.Open(ctx, v.Bucket); err != nil {
		return fmt.Errorf("opening bucket %s: %w", v.Bucket, err)
	}

	reg := &registration{version: v, state: StateInstalled, interceptor: interceptor}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.waiting != nil {
		r.log.WithField("version", r.waiting.version.Tag).Info("Waiting version superseded")
		r.waiting.state = StateRedundant
	}
	r.waiting = reg

	if r.skipWaiting || r.active == nil || r.active.leases == 0 {
		r.activateLocked()
	} else {
		log.Infof("Version installed, waiting for %d in-flight requests", r.active.leases)
	}
	return nil
}

// activateLocked promotes the waiting version and claims all new requests for it
func (r *Registry) activateLocked() {
	next := r.waiting
	r.waiting = nil
	next.state = StateActivating

	if prev := r.active; prev != nil {
		prev.state = StateRedundant
		r.log.WithField("version", prev.version.Tag).Info("Version replaced")
	}

	r.active = next
	r.history = append(r.history, next)
	next.state = StateActivated
	r.log.WithFields(logrus.Fields{"version": next.version.Tag, "bucket": next.version.Bucket}).
		Info("Version activated and claimed clients")

	if r.onActivate != nil {
		r.onActivate(next.version)
	}
}

// Acquire leases the active interceptor for one request. It returns nil when
// no version is active yet; release must be called either way.
func (r *Registry) Acquire() (*swr.Interceptor, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg := r.active
	if reg == nil {
		return nil, func() {}
	}
	reg.leases++

	var once sync.Once
	return reg.interceptor, func() {
		once.Do(func() { r.release(reg) })
	}
}

func (r *Registry) release(reg *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg.leases--
	if reg == r.active && reg.leases == 0 && r.waiting != nil {
		r.activateLocked()
	}
}

// Active returns the active version
func (r *Registry) Active() (Version, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return Version{}, false
	}
	return r.active.version, true
}

// Wait blocks until background refreshes of every activated version finish.
// Intended for tests; shutdown goes through Close.
func (r *Registry) Wait() {
	r.mu.Lock()
	history := append([]*registration(nil), r.history...)
	r.mu.Unlock()

	for _, reg := range history {
		reg.interceptor.Wait()
	}
}

// Close stops every activated version from intercepting and waits for their
// background refreshes. Requests leased afterwards are bypassed.
func (r *Registry) Close() {
	r.mu.Lock()
	history := append([]*registration(nil), r.history...)
	r.mu.Unlock()

	for _, reg := range history {
		reg.interceptor.Close()
	}
}

// VersionStatus describes one registered version
type VersionStatus struct {
	Version
	State  string `json:"state"`
	Leases int    `json:"leases"`
}

// Status is a snapshot of the registry
type Status struct {
	Active      *VersionStatus `json:"active,omitempty"`
	Waiting     *VersionStatus `json:"waiting,omitempty"`
	SkipWaiting bool           `json:"skip_waiting"`
}

func (r *Registry) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := Status{SkipWaiting: r.skipWaiting}
	if r.active != nil {
		status.Active = r.active.status()
	}
	if r.waiting != nil {
		status.Waiting = r.waiting.status()
	}
	return status
}

func (reg *registration) status() *VersionStatus {
	return &VersionStatus{Version: reg.version, State: reg.state.String(), Leases: reg.leases}
}
