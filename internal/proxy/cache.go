package proxy

import (
	"errors"
	"io"
	"net/http"

	"github.com/iTrooz/offline-cache-proxy/internal/swr"

	"github.com/elazarl/goproxy"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// handleRequest answers in-scope requests through the active interceptor
func (s *Server) handleRequest(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	if !s.shouldBeCached(requ) {
		logrus.Debugf("Forwarding %s %s (caching disabled by rules)", requ.Method, requ.URL)
		return requ, nil
	}

	// The lease lasts until goproxy has written the body and closed it, so a
	// waiting version never activates under a response still being delivered.
	interceptor, release := s.registry.Acquire()
	handedOff := false
	defer func() {
		if !handedOff {
			release()
		}
	}()
	if interceptor == nil {
		logrus.Warnf("No active version, forwarding %s %s", requ.Method, requ.URL)
		return requ, nil
	}

	log := logrus.WithFields(logrus.Fields{
		"request_id": uuid.NewString(),
		"method":     requ.Method,
		"url":        requ.URL.String(),
		"bucket":     interceptor.Bucket(),
	})

	resp, outcome, err := interceptor.Handle(requ.Context(), requ)
	if err != nil {
		if errors.Is(err, swr.ErrNetwork) {
			log.Warnf("Upstream unreachable and nothing cached: %v", err)
		} else {
			log.Errorf("Failed to handle request: %v", err)
		}
		resp = goproxy.NewResponse(requ, goproxy.ContentTypeText, http.StatusBadGateway, "upstream unreachable and no cached response\n")
		resp.Header.Set("X-Cache", "MISS")
		return requ, resp
	}
	if resp == nil {
		log.Debug("Bypassing cache")
		return requ, nil
	}

	if outcome == swr.OutcomeHit {
		resp.Header.Set("X-Cache", "HIT")
	} else {
		resp.Header.Set("X-Cache", "MISS")
	}
	log.WithField("outcome", outcome).Infof("Served %s %s", requ.Method, requ.URL)
	if resp.Body != nil {
		resp.Body = &leasedBody{ReadCloser: resp.Body, release: release}
		handedOff = true
	}
	return requ, resp
}

// leasedBody releases a version lease once the response body is closed
type leasedBody struct {
	io.ReadCloser
	release func()
}

func (b *leasedBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

// shouldBeCached determines if a request is in the interceptor's scope
func (s *Server) shouldBeCached(requ *http.Request) bool {
	matched := false
	for _, rule := range s.rules {
		if rule.Match(requ) {
			matched = true
			break
		}
	}

	if s.config.Rules.Mode == "whitelist" {
		return matched
	}
	return !matched
}
