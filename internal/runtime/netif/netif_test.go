package netif

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubInterfaces(t *testing.T, ifaces []net.Interface, addrs map[string][]net.Addr) {
	t.Helper()
	origIfaces, origAddrs := listInterfaces, listAddrs
	t.Cleanup(func() {
		listInterfaces, listAddrs = origIfaces, origAddrs
	})
	listInterfaces = func() ([]net.Interface, error) { return ifaces, nil }
	listAddrs = func(ifi *net.Interface) ([]net.Addr, error) {
		if a, ok := addrs[ifi.Name]; ok {
			return a, nil
		}
		return nil, errors.New("no such interface")
	}
}

func cidr(t *testing.T, s string) net.Addr {
	t.Helper()
	ip, n, err := net.ParseCIDR(s)
	require.NoError(t, err)
	n.IP = ip
	return n
}

func TestAddressesByFamily(t *testing.T) {
	stubInterfaces(t,
		[]net.Interface{
			{Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
			{Name: "eth0", Flags: net.FlagUp},
			{Name: "eth1"},
			{Name: "wlan0", Flags: net.FlagUp},
		},
		map[string][]net.Addr{
			"lo":    {cidr(t, "127.0.0.1/8"), cidr(t, "::1/128")},
			"eth0":  {cidr(t, "fe80::1/64"), cidr(t, "10.1.1.7/24")},
			"eth1":  {cidr(t, "192.168.0.2/24")},
			"wlan0": {&net.IPAddr{IP: net.ParseIP("172.16.0.9")}},
		},
	)

	v4, err := IPv4Addresses()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"lo":    "127.0.0.1",
		"eth0":  "10.1.1.7",
		"wlan0": "172.16.0.9",
	}, v4)

	v6, err := IPv6Addresses()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"lo":   "::1",
		"eth0": "fe80::1",
	}, v6)

	first, ok := FirstIPv4()
	require.True(t, ok)
	assert.Equal(t, "10.1.1.7", first.String())
}

func TestListingError(t *testing.T) {
	orig := listInterfaces
	t.Cleanup(func() { listInterfaces = orig })
	listInterfaces = func() ([]net.Interface, error) { return nil, errors.New("denied") }

	_, err := IPv4Addresses()
	assert.Error(t, err)
	_, ok := FirstIPv4()
	assert.False(t, ok)
}
