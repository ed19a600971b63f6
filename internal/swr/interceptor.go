package swr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config holds the capabilities an Interceptor is built from
type Config struct {
	// Bucket is the cache bucket identifier, e.g. "narrator-v1".
	Bucket  string
	Store   Store
	Fetcher Fetcher
	// Logger defaults to the standard logrus logger.
	Logger   logrus.FieldLogger
	Observer Observer
}

// Interceptor applies the stale-while-revalidate policy over one bucket
type Interceptor struct {
	bucket    string
	store     Store
	fetcher   Fetcher
	log       logrus.FieldLogger
	observer  Observer

	mu        sync.Mutex
	closed    bool
	refreshes sync.WaitGroup
}

type fetchResult struct {
	resp *http.Response
	err  error
}

// New creates an Interceptor
func New(cfg Config) (*Interceptor, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Interceptor{
		bucket:   cfg.Bucket,
		store:    cfg.Store,
		fetcher:  cfg.Fetcher,
		log:      logger.WithField("bucket", cfg.Bucket),
		observer: cfg.Observer,
	}, nil
}

// Bucket returns the bucket identifier
func (i *Interceptor) Bucket() string {
	return i.bucket
}

// Respond resolves req. A nil response with a nil error means req is not a GET
// and must go to the network unmodified.
func (i *Interceptor) Respond(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, _, err := i.Handle(ctx, req)
	return resp, err
}

// Handle is Respond that also reports how the request was answered.
//
// A cached hit is returned at once. Either way exactly one network fetch is
// started; when it succeeds its response replaces the bucket entry, and it is
// the result when there was no hit. Returned errors wrap ErrNetwork, or are
// ctx.Err() when ctx ends while waiting; the fetch itself is never cancelled.
func (i *Interceptor) Handle(ctx context.Context, req *http.Request) (*http.Response, Outcome, error) {
	if req.Method != http.MethodGet {
		i.observeRequest(OutcomeBypass)
		return nil, OutcomeBypass, nil
	}

	// registering the refresh under mu keeps Add from racing Close's Wait
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		i.observeRequest(OutcomeBypass)
		return nil, OutcomeBypass, nil
	}
	i.refreshes.Add(1)
	i.mu.Unlock()

	log := i.log.WithFields(logrus.Fields{"method": req.Method, "url": req.URL.String()})

	bucket, hit := i.lookup(ctx, req, log)

	// detached so the refresh outlives the request that triggered it
	outgoing := req.Clone(context.WithoutCancel(ctx))
	result := make(chan fetchResult, 1)
	go func() {
		defer i.refreshes.Done()
		result <- i.refresh(outgoing, bucket, log)
	}()

	if hit != nil {
		log.Debug("Serving cached response")
		i.observeRequest(OutcomeHit)
		return hit, OutcomeHit, nil
	}

	select {
	case r := <-result:
		if r.err != nil {
			i.observeRequest(OutcomeError)
			return nil, OutcomeError, fmt.Errorf("%w: %s %s: %v", ErrNetwork, req.Method, req.URL, r.err)
		}
		i.observeRequest(OutcomeMiss)
		return r.resp, OutcomeMiss, nil
	case <-ctx.Done():
		return nil, OutcomeError, ctx.Err()
	}
}

// lookup opens the bucket and matches req. Storage failures degrade to a miss.
func (i *Interceptor) lookup(ctx context.Context, req *http.Request, log logrus.FieldLogger) (Bucket, *http.Response) {
	bucket, err := i.store.Open(ctx, i.bucket)
	if err != nil {
		log.WithError(err).Warn("Failed to open cache bucket")
		return nil, nil
	}

	hit, err := bucket.Match(ctx, req)
	if err != nil {
		log.WithError(err).Warn("Failed to read cached response")
		return bucket, nil
	}
	return bucket, hit
}

// refresh fetches req and stores a copy of the response in bucket
func (i *Interceptor) refresh(req *http.Request, bucket Bucket, log logrus.FieldLogger) fetchResult {
	ctx := req.Context()

	var stored *http.Response
	resp, err := i.fetcher.Fetch(ctx, req)
	if err == nil {
		stored, resp, err = duplicate(resp)
	}
	if err != nil {
		log.WithError(err).Debug("Network fetch failed")
		i.observeRefresh(RefreshFailed)
		return fetchResult{err: err}
	}

	if bucket == nil {
		return fetchResult{resp: resp}
	}
	if err := bucket.Put(ctx, req, stored); err != nil {
		log.WithError(err).Error("Failed to store refreshed response")
		i.observeRefresh(RefreshStoreFailed)
		return fetchResult{resp: resp}
	}

	log.WithField("status", resp.StatusCode).Debug("Refreshed cached response")
	i.observeRefresh(RefreshStored)
	return fetchResult{resp: resp}
}

// Wait blocks until every background refresh started so far has finished.
// Handle must not be called concurrently with Wait; use Close when shutting down.
func (i *Interceptor) Wait() {
	i.refreshes.Wait()
}

// Close stops intercepting and waits for in-flight refreshes. GET requests
// arriving afterwards are bypassed like any other request.
func (i *Interceptor) Close() {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()

	i.refreshes.Wait()
}

func (i *Interceptor) observeRequest(o Outcome) {
	if i.observer != nil {
		i.observer.ObserveRequest(o)
	}
}

func (i *Interceptor) observeRefresh(r RefreshResult) {
	if i.observer != nil {
		i.observer.ObserveRefresh(r)
	}
}
