// Package registry maps log file headers to the decoders that understand them.
//
// A Registry is built explicitly at startup and handed to the replay entry
// points; there is no package-level state.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/wsdump/internal/errors"
	"github.com/hpungsan/wsdump/internal/record"
	"github.com/hpungsan/wsdump/internal/sink"
)

// Record is one log line as seen by a decoder. Time is the reader's pointed
// time, never earlier than that of any previous record.
type Record struct {
	Kind    record.Kind
	Time    time.Time
	Payload string
}

// Decoder consumes the records of one log file in order.
type Decoder interface {
	Dispatch(out sink.Sink, rec Record) error
}

// ProtocolFactory builds the decoder for a file with the given header.
type ProtocolFactory func(reg *Registry, h record.Header, logger zerolog.Logger) (Decoder, error)

// ExchangeFactory builds an exchange decoder for a stream URL.
type ExchangeFactory func(url string, logger zerolog.Logger) (Decoder, error)

type protocolKey struct {
	name    string
	version int
}

type exchangeRevision struct {
	since   time.Time
	factory ExchangeFactory
}

// Registry holds protocol, host and exchange tables.
type Registry struct {
	mu        sync.RWMutex
	protocols map[protocolKey]ProtocolFactory
	hosts     map[string]string
	exchanges map[string][]exchangeRevision
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		protocols: make(map[protocolKey]ProtocolFactory),
		hosts:     make(map[string]string),
		exchanges: make(map[string][]exchangeRevision),
	}
}

// RegisterProtocol adds the decoder factory for (name, version).
func (r *Registry) RegisterProtocol(name string, version int, factory ProtocolFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := protocolKey{name, version}
	if _, ok := r.protocols[key]; ok {
		return errors.NewAlreadyRegistered(fmt.Sprintf("protocol %s version %d", name, version))
	}
	r.protocols[key] = factory
	return nil
}

// Protocol looks up the factory for (name, version).
func (r *Registry) Protocol(name string, version int) (ProtocolFactory, error) {
	r.mu.RLock()
	factory, ok := r.protocols[protocolKey{name, version}]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewUnknownProtocol(name, version)
	}
	return factory, nil
}

// RegisterHost maps a host suffix such as "bitflyer.com" to an exchange name.
func (r *Registry) RegisterHost(suffix, exchange string) error {
	suffix = strings.ToLower(strings.Trim(suffix, "."))
	if suffix == "" {
		return errors.NewInvalidRequest("empty host suffix")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hosts[suffix]; ok {
		return errors.NewAlreadyRegistered("host " + suffix)
	}
	r.hosts[suffix] = exchange
	return nil
}

// ResolveHost returns the exchange whose registered suffix is the longest
// match for host on a label boundary.
func (r *Registry) ResolveHost(host string) (string, error) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	r.mu.RLock()
	defer r.mu.RUnlock()

	best, exchange := "", ""
	for suffix, name := range r.hosts {
		if host != suffix && !strings.HasSuffix(host, "."+suffix) {
			continue
		}
		if len(suffix) > len(best) {
			best, exchange = suffix, name
		}
	}
	if best == "" {
		return "", errors.NewUnknownExchange(fmt.Sprintf("no exchange registered for host %q", host))
	}
	return exchange, nil
}

// RegisterExchange adds a decoder revision for exchange, valid for files
// opened at or after since.
func (r *Registry) RegisterExchange(exchange string, since time.Time, factory ExchangeFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	revs := r.exchanges[exchange]
	for _, rev := range revs {
		if rev.since.Equal(since) {
			return errors.NewAlreadyRegistered(fmt.Sprintf("exchange %s since %s", exchange, since.Format(time.RFC3339)))
		}
	}
	revs = append(revs, exchangeRevision{since: since, factory: factory})
	sort.Slice(revs, func(i, j int) bool { return revs[i].since.Before(revs[j].since) })
	r.exchanges[exchange] = revs
	return nil
}

// Exchange returns the latest revision of exchange's decoder whose start is
// not after at.
func (r *Registry) Exchange(exchange string, at time.Time) (ExchangeFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	revs, ok := r.exchanges[exchange]
	if !ok {
		return nil, errors.NewUnknownExchange(fmt.Sprintf("no decoder registered for exchange %q", exchange))
	}
	for i := len(revs) - 1; i >= 0; i-- {
		if !revs[i].since.After(at) {
			return revs[i].factory, nil
		}
	}
	return nil, errors.NewUnknownExchange(fmt.Sprintf("no %s decoder for streams opened at %s", exchange, at.Format(time.RFC3339)))
}

// Exchanges lists the exchanges that have a decoder.
func (r *Registry) Exchanges() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.exchanges))
	for name := range r.exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
