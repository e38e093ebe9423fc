package discovery

import (
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/hwsim/internal/infrastructure/config"
)

func TestTXTRecords(t *testing.T) {
	txt := TXTRecords(Info{Identity: "Server FEMII-ZYNQ", Codec: "json", Version: "1.2.0", Devices: 7})

	assert.Equal(t, []string{
		"identity=Server FEMII-ZYNQ",
		"codec=json",
		"devices=7",
		"version=1.2.0",
	}, txt)

	assert.NotContains(t, strings.Join(TXTRecords(Info{Codec: "cbor"}), ","), "version=")
}

func TestParseEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("bench", DefaultService, DefaultDomain)
	entry.HostName = "rig.local."
	entry.Port = 5555
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.4.16")}
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	entry.Text = TXTRecords(Info{Identity: "Server FEMII-ZYNQ", Codec: "cbor", Version: "dev", Devices: 3})
	entry.Text = append(entry.Text, "junk")

	ep := parseEntry(entry)

	assert.Equal(t, "bench", ep.Instance)
	assert.Equal(t, "rig.local.", ep.Host)
	assert.Equal(t, []string{"192.168.4.16", "fe80::1"}, ep.Addrs)
	assert.Equal(t, 5555, ep.Port)
	assert.Equal(t, "Server FEMII-ZYNQ", ep.Identity)
	assert.Equal(t, "cbor", ep.Codec)
	assert.Equal(t, "dev", ep.Version)
	assert.Equal(t, 3, ep.Devices)
}

func TestEndpoint_Address(t *testing.T) {
	tests := []struct {
		name string
		ep   Endpoint
		want string
	}{
		{"ipv4", Endpoint{Addrs: []string{"10.0.0.5"}, Port: 5555}, "10.0.0.5:5555"},
		{"ipv6", Endpoint{Addrs: []string{"fe80::1"}, Port: 5555}, "[fe80::1]:5555"},
		{"host fallback", Endpoint{Host: "rig.local.", Port: 6000}, "rig.local:6000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ep.Address())
		})
	}
}

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "lab", instanceName(config.DiscoveryConfig{Instance: "lab"}, Info{Identity: "x"}))
	assert.Equal(t, "Server FEMII-ZYNQ", instanceName(config.DiscoveryConfig{}, Info{Identity: "Server FEMII-ZYNQ"}))
	assert.Equal(t, "hwsim", instanceName(config.DiscoveryConfig{}, Info{}))
	assert.Len(t, instanceName(config.DiscoveryConfig{Instance: strings.Repeat("a", 100)}, Info{}), maxInstanceLen)
}

func TestServiceAndDomain_Defaults(t *testing.T) {
	service, domain := serviceAndDomain(config.DiscoveryConfig{})
	assert.Equal(t, DefaultService, service)
	assert.Equal(t, DefaultDomain, domain)

	service, domain = serviceAndDomain(config.DiscoveryConfig{Service: "_lab._tcp", Domain: "example."})
	assert.Equal(t, "_lab._tcp", service)
	assert.Equal(t, "example.", domain)
}

func TestAdvertiser_RequiresPort(t *testing.T) {
	a := NewAdvertiser(config.DiscoveryConfig{}, nil)
	assert.ErrorIs(t, a.Start(Info{Identity: "x"}), ErrNoPort)

	// Stop without Start is a no-op.
	a.Stop()
}

// TestAdvertiseAndBrowse needs multicast on the host; set HWSIM_MDNS_TESTS=1.
func TestAdvertiseAndBrowse(t *testing.T) {
	if os.Getenv("HWSIM_MDNS_TESTS") == "" {
		t.Skip("set HWSIM_MDNS_TESTS=1 to run mDNS tests")
	}

	cfg := config.DiscoveryConfig{Instance: "hwsim-test", Service: "_hwsimtest._tcp"}
	a := NewAdvertiser(cfg, nil)
	require.NoError(t, a.Start(Info{Port: 5599, Identity: "test", Codec: "json", Devices: 2}))
	defer a.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	endpoints, err := Browse(ctx, cfg)
	require.NoError(t, err)

	var found *Endpoint
	for i := range endpoints {
		if endpoints[i].Instance == "hwsim-test" {
			found = &endpoints[i]
		}
	}
	require.NotNil(t, found, "advertised instance not browsed: %+v", endpoints)
	assert.Equal(t, 5599, found.Port)
	assert.Equal(t, "json", found.Codec)
}
