// Package netif lists the addresses bound to the host's network interfaces.
package netif

import (
	"net"
	"net/netip"
	"sort"

	"github.com/wlynxg/anet"
)

// Overridable for tests.
var (
	listInterfaces = anet.Interfaces
	listAddrs      = anet.InterfaceAddrsByInterface
)

// IPv4Addresses maps each interface that is up to its first IPv4 address.
func IPv4Addresses() (map[string]string, error) {
	return addresses(func(a netip.Addr) bool { return a.Is4() })
}

// IPv6Addresses maps each interface that is up to its first IPv6 address.
func IPv6Addresses() (map[string]string, error) {
	return addresses(func(a netip.Addr) bool { return a.Is6() })
}

// FirstIPv4 returns the first non-loopback IPv4 address, ordering
// interfaces by name.
func FirstIPv4() (netip.Addr, bool) {
	addrs, err := IPv4Addresses()
	if err != nil {
		return netip.Addr{}, false
	}
	names := make([]string, 0, len(addrs))
	for name := range addrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a, err := netip.ParseAddr(addrs[name])
		if err == nil && !a.IsLoopback() {
			return a, true
		}
	}
	return netip.Addr{}, false
}

func addresses(keep func(netip.Addr) bool) (map[string]string, error) {
	ifaces, err := listInterfaces()
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(ifaces))
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := listAddrs(&iface)
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip, ok := toAddr(addr)
			if !ok || !keep(ip) {
				continue
			}
			out[iface.Name] = ip.String()
			break
		}
	}
	return out, nil
}

func toAddr(addr net.Addr) (netip.Addr, bool) {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	default:
		return netip.Addr{}, false
	}
	a, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}
