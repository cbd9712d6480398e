package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/cuemby/weft/pkg/log"
	"github.com/cuemby/weft/pkg/types"
)

// dnsLabel is the label queried under the configured zone for peer records.
const dnsLabel = "_weft"

// DNSBootstrap discovers peer endpoint addresses from DNS TXT records,
// seeding gossip before any peer has been learned. Each TXT record under
// _weft.<zone> describes one peer:
//
//	"id=<node-id> addrs=<host:port>[,<host:port>...] relay=<url>"
//
// id is required; addrs and relay are optional but a record with neither is
// skipped.
type DNSBootstrap struct {
	zone    string
	servers []string
	client  *dns.Client
	logger  zerolog.Logger
}

// NewDNSBootstrap creates a bootstrap resolver for zone. servers lists the
// resolvers to query (host:port); empty uses the system resolver config.
func NewDNSBootstrap(zone string, servers []string) *DNSBootstrap {
	return &DNSBootstrap{
		zone:    zone,
		servers: append([]string(nil), servers...),
		client:  new(dns.Client),
		logger:  log.WithComponent("discovery"),
	}
}

// Lookup queries the zone and returns all parseable peer addresses.
func (b *DNSBootstrap) Lookup(ctx context.Context) ([]types.NodeAddr, error) {
	servers := b.servers
	if len(servers) == 0 {
		cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("%w: no resolvers configured: %v", ErrDiscoveryUnavailable, err)
		}
		for _, s := range cfg.Servers {
			servers = append(servers, s+":"+cfg.Port)
		}
	}

	name := dns.Fqdn(dnsLabel + "." + b.zone)
	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypeTXT)

	var lastErr error
	for _, server := range servers {
		resp, _, err := b.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("query %s: rcode %s", name, dns.RcodeToString[resp.Rcode])
			continue
		}
		return b.parseAnswers(resp), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrDiscoveryUnavailable, lastErr)
}

func (b *DNSBootstrap) parseAnswers(resp *dns.Msg) []types.NodeAddr {
	var peers []types.NodeAddr
	for _, rr := range resp.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		record := strings.Join(txt.Txt, "")
		addr, err := ParsePeerRecord(record)
		if err != nil {
			b.logger.Warn().Err(err).Str("record", record).Msg("skipping malformed peer record")
			continue
		}
		peers = append(peers, addr)
	}
	return peers
}

// ParsePeerRecord parses one TXT peer record into a NodeAddr.
func ParsePeerRecord(record string) (types.NodeAddr, error) {
	var addr types.NodeAddr
	for _, field := range strings.Fields(record) {
		key, value, found := strings.Cut(field, "=")
		if !found {
			return types.NodeAddr{}, fmt.Errorf("malformed field %q", field)
		}
		switch key {
		case "id":
			addr.ID = types.NodeID(value)
		case "addrs":
			addr.DirectAddrs = strings.Split(value, ",")
		case "relay":
			addr.RelayURL = value
		}
	}
	if addr.ID == "" {
		return types.NodeAddr{}, fmt.Errorf("peer record missing id")
	}
	if addr.RelayURL == "" && len(addr.DirectAddrs) == 0 {
		return types.NodeAddr{}, fmt.Errorf("peer record for %s has no reachability", addr.ID.Short())
	}
	return addr, nil
}
