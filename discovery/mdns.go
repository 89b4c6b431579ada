package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_invsync._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultScanTimeout bounds each discovery scan.
	DefaultScanTimeout = 3 * time.Second
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls host advertisement and browsing.
type Config struct {
	Service     string
	Domain      string
	Version     int
	ScanTimeout time.Duration

	InstanceID string
	HostName   string
	Port       int
	Transport  string

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c Config) validateForAdvertise() error {
	if strings.TrimSpace(c.InstanceID) == "" {
		return errors.New("instance ID is required")
	}
	if strings.TrimSpace(c.HostName) == "" {
		return errors.New("host name is required")
	}
	if c.Port <= 0 {
		return errors.New("port must be > 0")
	}
	return nil
}

// Advertiser announces a listening host via mDNS.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the host and starts answering mDNS queries.
func Advertise(config Config) (*Advertiser, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForAdvertise(); err != nil {
		return nil, err
	}

	txt := []string{
		"instance=" + cfg.InstanceID,
		"version=" + strconv.Itoa(cfg.Version),
		"transport=" + cfg.Transport,
	}

	server, err := cfg.registerFn(cfg.HostName, cfg.Service, cfg.Domain, cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	return &Advertiser{server: server}, nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}
