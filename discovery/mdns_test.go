package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestAdvertiseBuildsExpectedTXTRecords(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotDomain   string
		gotPort     int
		gotTXT      []string
	)

	cfg := Config{
		InstanceID: "instance-123",
		HostName:   "Game Night",
		Port:       7777,
		Transport:  "ws",
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance = instance
			gotService = service
			gotDomain = domain
			gotPort = port
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
	}

	advertiser, err := Advertise(cfg)
	if err != nil {
		t.Fatalf("Advertise failed: %v", err)
	}
	if advertiser == nil {
		t.Fatalf("expected advertiser instance")
	}
	advertiser.Stop()

	if gotInstance != "Game Night" {
		t.Fatalf("unexpected instance name: %q", gotInstance)
	}
	if gotService != DefaultService {
		t.Fatalf("unexpected service: %q", gotService)
	}
	if gotDomain != DefaultDomain {
		t.Fatalf("unexpected domain: %q", gotDomain)
	}
	if gotPort != 7777 {
		t.Fatalf("unexpected port: %d", gotPort)
	}

	want := map[string]string{"instance": "instance-123", "version": "1", "transport": "ws"}
	got := txtToMap(gotTXT)
	for key, value := range want {
		if got[key] != value {
			t.Fatalf("expected TXT %s=%s, got %q", key, value, got[key])
		}
	}
}

func TestAdvertiseValidatesConfig(t *testing.T) {
	register := func(string, string, string, int, []string, []net.Interface) (*zeroconf.Server, error) {
		t.Fatalf("register should not be called for invalid config")
		return nil, nil
	}
	for _, cfg := range []Config{
		{HostName: "h", Port: 1, registerFn: register},
		{InstanceID: "i", Port: 1, registerFn: register},
		{InstanceID: "i", HostName: "h", registerFn: register},
	} {
		if _, err := Advertise(cfg); err == nil {
			t.Fatalf("expected validation error for %+v", cfg)
		}
	}
}

func TestAdvertiseWrapsRegisterError(t *testing.T) {
	boom := errors.New("no multicast")
	_, err := Advertise(Config{
		InstanceID: "i",
		HostName:   "h",
		Port:       1,
		registerFn: func(string, string, string, int, []string, []net.Interface) (*zeroconf.Server, error) {
			return nil, boom
		},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped register error, got %v", err)
	}
}

func TestBrowseCollectsHostsAndSkipsSelf(t *testing.T) {
	cfg := Config{
		ScanTimeout: 100 * time.Millisecond,
		browseFn: func(_ context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			if service != DefaultService || domain != DefaultDomain {
				t.Errorf("unexpected browse target %s %s", service, domain)
			}
			entries <- testEntry("Zeta Host", "host-z", "10.0.0.9", 7000)
			entries <- testEntry("Alpha Host", "host-a", "10.0.0.2", 7001)
			entries <- testEntry("Me", "self", "10.0.0.3", 7002)
			entries <- &zeroconf.ServiceEntry{Text: []string{"version=1"}}
			return nil
		},
	}

	hosts, err := Browse(context.Background(), cfg, "self")
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if len(hosts) != 2 {
		t.Fatalf("expected two hosts, got %+v", hosts)
	}
	if hosts[0].Name != "Alpha Host" || hosts[1].Name != "Zeta Host" {
		t.Fatalf("expected hosts sorted by name, got %q then %q", hosts[0].Name, hosts[1].Name)
	}
	if hosts[0].Transport != "tcp" || hosts[0].Version != 1 {
		t.Fatalf("unexpected TXT parsing: %+v", hosts[0])
	}
	if got := hosts[0].Address(); got != "10.0.0.2:7001" {
		t.Fatalf("unexpected dial address: %q", got)
	}
}

func TestBrowseReturnsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Browse(ctx, Config{
		browseFn: func(context.Context, string, string, chan<- *zeroconf.ServiceEntry) error {
			return nil
		},
	}, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHostAddressPrefersIPv4(t *testing.T) {
	host := Host{Port: 7777, Addresses: []string{"fe80::1", "192.168.1.5"}}
	if got := host.Address(); got != "192.168.1.5:7777" {
		t.Fatalf("unexpected address: %q", got)
	}
	host = Host{Port: 7777, Addresses: []string{"fe80::1"}}
	if got := host.Address(); got != "[fe80::1]:7777" {
		t.Fatalf("unexpected address: %q", got)
	}
	host = Host{Port: 7777, HostName: "box.local."}
	if got := host.Address(); got != "box.local:7777" {
		t.Fatalf("unexpected address: %q", got)
	}
}

func testEntry(instance, id, ip string, port int) *zeroconf.ServiceEntry {
	entry := zeroconf.NewServiceEntry(instance, DefaultService, DefaultDomain)
	entry.HostName = instance + ".local."
	entry.Port = port
	entry.Text = []string{"instance=" + id, "version=1", "transport=tcp"}
	entry.AddrIPv4 = []net.IP{net.ParseIP(ip)}
	return entry
}
