package proxy

import (
	"net/http"
	"strings"

	"github.com/iTrooz/offline-cache-proxy/internal/config"
)

// Rule interface for matching requests against scope rules
type Rule interface {
	Match(requ *http.Request) bool
}

// ConfigRule implements Rule interface for config-based rules
type ConfigRule struct {
	config.CacheRule
}

// Match checks if the request target starts with the rule's base URI
func (r *ConfigRule) Match(requ *http.Request) bool {
	return strings.HasPrefix(getTargetURL(requ), r.BaseURI)
}
