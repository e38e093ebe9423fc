package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/nerrad567/hwsim/internal/infrastructure/config"
)

const (
	// DefaultService is the mDNS service type.
	DefaultService = "_hwsim._tcp"

	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."

	// DefaultBrowseTimeout bounds Browse when ctx has no deadline.
	DefaultBrowseTimeout = 3 * time.Second

	// maxInstanceLen is the DNS label limit.
	maxInstanceLen = 63
)

// TXT record keys.
const (
	txtIdentity = "identity"
	txtCodec    = "codec"
	txtVersion  = "version"
	txtDevices  = "devices"
)

// ErrNoPort is returned when advertising without a port.
var ErrNoPort = errors.New("discovery: port is required")

// Logger defines the logging interface for the advertiser.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Info describes the endpoint being advertised.
type Info struct {
	Port     int
	Identity string
	Codec    string
	Version  string
	Devices  int
}

// TXTRecords encodes info as key=value TXT strings.
func TXTRecords(info Info) []string {
	txt := []string{
		txtIdentity + "=" + info.Identity,
		txtCodec + "=" + info.Codec,
		txtDevices + "=" + strconv.Itoa(info.Devices),
	}
	if info.Version != "" {
		txt = append(txt, txtVersion+"="+info.Version)
	}
	return txt
}

// Endpoint is a simulator found by Browse.
type Endpoint struct {
	Instance string   `json:"instance"`
	Host     string   `json:"host"`
	Addrs    []string `json:"addrs"`
	Port     int      `json:"port"`
	Identity string   `json:"identity,omitempty"`
	Codec    string   `json:"codec,omitempty"`
	Version  string   `json:"version,omitempty"`
	Devices  int      `json:"devices,omitempty"`
}

// Address returns host:port for the first advertised address, falling back
// to the host name.
func (e Endpoint) Address() string {
	host := strings.TrimSuffix(e.Host, ".")
	if len(e.Addrs) > 0 {
		host = e.Addrs[0]
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return host + ":" + strconv.Itoa(e.Port)
}

func parseEntry(entry *zeroconf.ServiceEntry) Endpoint {
	ep := Endpoint{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     entry.Port,
	}
	for _, ip := range entry.AddrIPv4 {
		ep.Addrs = append(ep.Addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		ep.Addrs = append(ep.Addrs, ip.String())
	}
	for _, kv := range entry.Text {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case txtIdentity:
			ep.Identity = v
		case txtCodec:
			ep.Codec = v
		case txtVersion:
			ep.Version = v
		case txtDevices:
			ep.Devices, _ = strconv.Atoi(v)
		}
	}
	return ep
}

// instanceName picks the advertised instance: the configured name, else the
// server identity, truncated to one DNS label.
func instanceName(cfg config.DiscoveryConfig, info Info) string {
	name := cfg.Instance
	if name == "" {
		name = info.Identity
	}
	if name == "" {
		name = "hwsim"
	}
	if len(name) > maxInstanceLen {
		name = name[:maxInstanceLen]
	}
	return name
}

func serviceAndDomain(cfg config.DiscoveryConfig) (string, string) {
	service, domain := cfg.Service, cfg.Domain
	if service == "" {
		service = DefaultService
	}
	if domain == "" {
		domain = DefaultDomain
	}
	return service, domain
}

// Advertiser registers the simulator with mDNS.
type Advertiser struct {
	cfg    config.DiscoveryConfig
	logger Logger

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser.
// logger is optional - if nil, nothing is logged.
func NewAdvertiser(cfg config.DiscoveryConfig, logger Logger) *Advertiser {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Advertiser{cfg: cfg, logger: logger}
}

// Start registers the service. A second Start replaces the registration.
func (a *Advertiser) Start(info Info) error {
	if info.Port <= 0 {
		return ErrNoPort
	}
	service, domain := serviceAndDomain(a.cfg)
	instance := instanceName(a.cfg, info)

	server, err := zeroconf.Register(instance, service, domain, info.Port, TXTRecords(info), nil)
	if err != nil {
		return fmt.Errorf("discovery: register %s: %w", service, err)
	}

	a.mu.Lock()
	old := a.server
	a.server = server
	a.mu.Unlock()
	if old != nil {
		old.Shutdown()
	}

	a.logger.Info("mdns service registered", "instance", instance, "service", service, "port", info.Port)
	return nil
}

// Stop withdraws the registration.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	server := a.server
	a.server = nil
	a.mu.Unlock()

	if server != nil {
		server.Shutdown()
		a.logger.Info("mdns service withdrawn")
	}
}

// Serve advertises until ctx is cancelled.
func (a *Advertiser) Serve(ctx context.Context, info Info) error {
	if err := a.Start(info); err != nil {
		return err
	}
	<-ctx.Done()
	a.Stop()
	return nil
}

// Browse returns the simulators that answer before ctx ends, sorted by
// instance. Without a deadline on ctx it browses for DefaultBrowseTimeout.
func Browse(ctx context.Context, cfg config.DiscoveryConfig) ([]Endpoint, error) {
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); ok {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, DefaultBrowseTimeout)
	}
	defer cancel()
	service, domain := serviceAndDomain(cfg)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: create resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(map[string]Endpoint)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				ep := parseEntry(entry)
				found[ep.Instance] = ep
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("discovery: browse %s: %w", service, err)
	}
	<-done

	endpoints := make([]Endpoint, 0, len(found))
	for _, ep := range found {
		endpoints = append(endpoints, ep)
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Instance < endpoints[j].Instance })
	return endpoints, nil
}
