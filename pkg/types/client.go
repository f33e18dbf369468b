package types

import (
	"net/netip"
	"strings"
)

// Negated splits the exclusion prefix off a list entry. "!value" and
// "-value" exclude; anything else is a positive entry.
func Negated(entry string) (string, bool) {
	if entry != "" && (entry[0] == '!' || entry[0] == '-') {
		return entry[1:], true
	}
	return entry, false
}

// ParseNetwork parses a client list entry: either a CIDR network or a
// bare address, which is treated as a host network.
func ParseNetwork(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
