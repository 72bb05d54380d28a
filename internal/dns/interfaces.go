package dns

import (
	"context"

	"github.com/miekg/dns"
)

// Exchanger resolves a DNS message against an upstream resolver. The
// interface exists so the handler can be tested without network access.
type Exchanger interface {
	Exchange(ctx context.Context, m *dns.Msg) (*dns.Msg, error)
}
