// Package transport implements the broadcast/resolver contract: how a
// supervisor reaches another supervisor or monitoring host over HTTP.
package transport

import (
	"fmt"
	"net/url"

	"github.com/relaymesh/relay/pkg/model"
)

// HostResolver turns a target id and its routing metadata into a base
// URL to call. The default implementation prefers an explicit resolver
// hint, falling back to parsing the target id itself as a URL.
type HostResolver interface {
	Resolve(targetID string, meta *model.PipelineMeta) (string, error)
}

// DefaultHostResolver implements HostResolver by honoring
// meta.Resolver when set, else deriving scheme+host+port from targetID.
type DefaultHostResolver struct{}

// Resolve implements HostResolver.
func (DefaultHostResolver) Resolve(targetID string, meta *model.PipelineMeta) (string, error) {
	if meta != nil && meta.Resolver != "" {
		return meta.Resolver, nil
	}

	u, err := url.Parse(targetID)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("unable to resolve host for target %q", targetID)
	}

	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}
