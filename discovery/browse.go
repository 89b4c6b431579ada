package discovery

import (
	"context"
	"errors"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// Host is one advertised host found on the LAN.
type Host struct {
	InstanceID string
	Name       string
	Transport  string
	Version    int
	HostName   string
	Port       int
	Addresses  []string
}

// Address returns a dialable host:port, preferring IPv4.
func (h Host) Address() string {
	if len(h.Addresses) == 0 {
		return net.JoinHostPort(strings.TrimSuffix(h.HostName, "."), strconv.Itoa(h.Port))
	}
	for _, addr := range h.Addresses {
		if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil {
			return net.JoinHostPort(addr, strconv.Itoa(h.Port))
		}
	}
	return net.JoinHostPort(h.Addresses[0], strconv.Itoa(h.Port))
}

// Browse runs one bounded scan and returns the hosts found, sorted by name.
// Entries advertised by selfInstance are skipped.
func Browse(ctx context.Context, config Config, selfInstance string) ([]Host, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collected := make(map[string]Host)
	var collectedMu sync.Mutex
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry := <-entries:
				if entry == nil {
					continue
				}
				host, ok := parseEntry(entry, selfInstance)
				if !ok {
					continue
				}
				collectedMu.Lock()
				collected[host.InstanceID] = host
				collectedMu.Unlock()
			}
		}
	}()

	if err := browse(scanCtx, cfg.Service, cfg.Domain, entries); err != nil {
		return nil, err
	}

	<-scanCtx.Done()
	<-collectorDone

	// A timeout just means this scan window ended naturally.
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	collectedMu.Lock()
	defer collectedMu.Unlock()
	out := make([]Host, 0, len(collected))
	for _, host := range collected {
		out = append(out, host)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].InstanceID < out[j].InstanceID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func parseEntry(entry *zeroconf.ServiceEntry, selfInstance string) (Host, bool) {
	txt := txtToMap(entry.Text)

	instanceID := strings.TrimSpace(txt["instance"])
	if instanceID == "" || instanceID == selfInstance {
		return Host{}, false
	}

	version := 0
	if txt["version"] != "" {
		if parsed, err := strconv.Atoi(txt["version"]); err == nil {
			version = parsed
		}
	}

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	seen := make(map[string]struct{})
	for _, ip := range append(entry.AddrIPv4, entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		raw := ip.String()
		if _, exists := seen[raw]; exists {
			continue
		}
		seen[raw] = struct{}{}
		addresses = append(addresses, raw)
	}
	sort.Strings(addresses)

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = strings.TrimSpace(entry.HostName)
	}
	if name == "" {
		name = instanceID
	}

	return Host{
		InstanceID: instanceID,
		Name:       name,
		Transport:  strings.TrimSpace(txt["transport"]),
		Version:    version,
		HostName:   entry.HostName,
		Port:       entry.Port,
		Addresses:  addresses,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
