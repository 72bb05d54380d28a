package dns

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// Upstream resolves queries against explicitly configured recursive
// resolvers, trying each in order. The addresses always come from the policy
// document — host resolver settings would point back at this very listener
// and recurse forever.
type Upstream struct {
	servers []string
	client  *dns.Client
}

// NewUpstream builds the stub resolver. Addresses without a port get :53.
func NewUpstream(servers []string, timeout time.Duration) *Upstream {
	addrs := make([]string, 0, len(servers))
	for _, s := range servers {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		addrs = append(addrs, s)
	}
	return &Upstream{
		servers: addrs,
		client:  &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// Exchange sends the query to each upstream until one answers.
func (u *Upstream) Exchange(ctx context.Context, m *dns.Msg) (*dns.Msg, error) {
	var lastErr error
	for _, server := range u.servers {
		resp, _, err := u.client.ExchangeContext(ctx, m, server)
		if err != nil {
			logrus.WithError(err).WithField("upstream", server).Debug("Upstream exchange failed")
			lastErr = err
			continue
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no upstream servers configured")
	}
	return nil, lastErr
}
