package broker

import (
	"fmt"
	"net/netip"
	"path"
	"strings"

	"github.com/drblury/rtpsbridge/engine"
)

// DataTopic is the broker topic carrying samples of topic in domain.
func DataTopic(domain uint32, topic string) string {
	return fmt.Sprintf("rtps-d%d-data-%s", domain, topic)
}

// DiscoveryTopic is the broker topic carrying announcements of domain.
func DiscoveryTopic(domain uint32) string {
	return fmt.Sprintf("rtps-d%d-discovery", domain)
}

func normalizePartition(p string) string {
	if p == "" {
		return engine.DefaultPartition
	}
	return p
}

func validPartition(p string) bool {
	_, err := path.Match(p, "")
	return err == nil
}

// partitionsMatch treats each side as a pattern for the other.
func partitionsMatch(a, b string) bool {
	a, b = normalizePartition(a), normalizePartition(b)
	if a == b || a == engine.DefaultPartition || b == engine.DefaultPartition {
		return true
	}
	if ok, _ := path.Match(a, b); ok {
		return true
	}
	ok, _ := path.Match(b, a)
	return ok
}

func locatorFor(transportName string, addr netip.Addr) string {
	return transportName + "://" + addr.String()
}

// locatorAddrs extracts the hosts of a comma separated locator list.
func locatorAddrs(locators string) []netip.Addr {
	var out []netip.Addr
	for _, loc := range strings.Split(locators, ",") {
		loc = strings.TrimSpace(loc)
		if i := strings.Index(loc, "://"); i >= 0 {
			loc = loc[i+3:]
		}
		if a, err := netip.ParseAddr(loc); err == nil {
			out = append(out, a.Unmap())
		}
	}
	return out
}

// inPrefix reports whether any locator host lies inside prefix.
func inPrefix(prefix netip.Prefix, locators string) bool {
	for _, a := range locatorAddrs(locators) {
		if prefix.Contains(a) {
			return true
		}
	}
	return false
}
