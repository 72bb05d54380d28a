// Package dns implements the UDP frontend of the resolver: it parses
// queries, decides block-vs-forward against the shared state, synthesizes
// sinkhole replies for blocked names, and relays everything else to the
// configured upstream resolvers.
package dns

import (
	"context"
	"net"
	"strings"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"blockandfocus/internal/metrics"
	"blockandfocus/internal/state"
)

// blockedTTL keeps sinkhole answers short-lived so lifting a block takes
// effect quickly.
const blockedTTL = 60

// Handler turns one raw datagram into one reply.
type Handler struct {
	state    *state.State
	upstream Exchanger
}

// NewHandler creates a query handler over the shared state and an upstream.
func NewHandler(st *state.State, upstream Exchanger) *Handler {
	return &Handler{state: st, upstream: upstream}
}

// HandleQuery parses a raw datagram and returns the packed reply. A nil
// return means the datagram must be dropped silently.
func (h *Handler) HandleQuery(ctx context.Context, raw []byte) []byte {
	req := new(dns.Msg)
	if err := req.Unpack(raw); err != nil {
		metrics.QueriesDropped.Inc()
		logrus.WithError(err).Debug("Dropping unparseable datagram")
		return nil
	}
	if req.Response || len(req.Question) == 0 {
		metrics.QueriesDropped.Inc()
		return nil
	}

	q := req.Question[0]
	name := strings.TrimSuffix(q.Name, ".")

	logrus.WithFields(logrus.Fields{
		"domain": name,
		"type":   dns.TypeToString[q.Qtype],
	}).Debug("DNS query received")

	if h.state.ShouldBlockQuery(name) {
		h.state.NoteBlocked()
		metrics.QueriesBlocked.Inc()
		logrus.WithField("domain", name).Info("Blocked domain")
		return pack(blockedReply(req, q))
	}

	resp, err := h.upstream.Exchange(ctx, req)
	if err != nil {
		metrics.QueriesServfail.Inc()
		logrus.WithError(err).WithField("domain", name).Warn("Upstream resolution failed")
		m := new(dns.Msg)
		m.SetReply(req)
		m.Rcode = dns.RcodeServerFailure
		return pack(m)
	}

	resp.Id = req.Id
	h.state.NoteForwarded()
	metrics.QueriesForwarded.Inc()
	return pack(resp)
}

// blockedReply answers A with 0.0.0.0 and AAAA with ::. Any other type gets
// NOERROR with an empty answer section, so clients do not conclude the name
// is unbound. Authoritative and recursion-available stay clear.
func blockedReply(req *dns.Msg, q dns.Question) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(req)
	m.Authoritative = false
	m.RecursionAvailable = false

	hdr := dns.RR_Header{Name: q.Name, Class: dns.ClassINET, Ttl: blockedTTL}
	switch q.Qtype {
	case dns.TypeA:
		hdr.Rrtype = dns.TypeA
		m.Answer = append(m.Answer, &dns.A{Hdr: hdr, A: net.IPv4zero})
	case dns.TypeAAAA:
		hdr.Rrtype = dns.TypeAAAA
		m.Answer = append(m.Answer, &dns.AAAA{Hdr: hdr, AAAA: net.IPv6zero})
	}
	return m
}

func pack(m *dns.Msg) []byte {
	out, err := m.Pack()
	if err != nil {
		logrus.WithError(err).Error("Failed to pack DNS reply")
		return nil
	}
	return out
}
