package proxy

import (
	"crypto/tls"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// leafCertStore keeps the MITM leaf certificate generated for each host.
// Concurrent handshakes for a host share one generation, and hosts never
// wait on each other.
type leafCertStore struct {
	mu      sync.RWMutex
	byHost  map[string]*tls.Certificate
	pending singleflight.Group
}

func newCertStore() *leafCertStore {
	return &leafCertStore{byHost: make(map[string]*tls.Certificate)}
}

// Fetch implements goproxy.CertStorage
func (s *leafCertStore) Fetch(hostname string, gen func() (*tls.Certificate, error)) (*tls.Certificate, error) {
	host := strings.ToLower(hostname)

	s.mu.RLock()
	cert, ok := s.byHost[host]
	s.mu.RUnlock()
	if ok {
		return cert, nil
	}

	v, err, _ := s.pending.Do(host, func() (interface{}, error) {
		s.mu.RLock()
		cert, ok := s.byHost[host]
		s.mu.RUnlock()
		if ok {
			return cert, nil
		}

		cert, err := gen()
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.byHost[host] = cert
		s.mu.Unlock()
		logrus.Debugf("Generated MITM certificate for %s", host)
		return cert, nil
	})
	if err != nil {
		logrus.Errorf("Failed to generate certificate for %s: %v", host, err)
		return nil, fmt.Errorf("generating certificate for %s: %w", host, err)
	}
	return v.(*tls.Certificate), nil
}

// Len returns the number of hosts with a cached certificate
func (s *leafCertStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byHost)
}
