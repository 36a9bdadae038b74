package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/rs/zerolog/log"
)

// Preference restricts or orders the address families considered.
type Preference int

const (
	// Any takes the first address returned, preferring IPv4 when both exist
	Any Preference = iota
	IPv4Only
	IPv6Only
)

// ErrNoAddress is returned when host has no address of the wanted family.
var ErrNoAddress = errors.New("no address found")

// Lookuper is the subset of *net.Resolver used here.
type Lookuper interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Resolve turns host into a single address. Literal addresses are returned
// without a lookup but must still satisfy pref.
func Resolve(ctx context.Context, host string, pref Preference) (netip.Addr, error) {
	return ResolveWith(ctx, net.DefaultResolver, host, pref)
}

// ResolveWith is Resolve with an explicit resolver.
func ResolveWith(ctx context.Context, r Lookuper, host string, pref Preference) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		if !pref.allows(addr) {
			return netip.Addr{}, fmt.Errorf("%w: %s is not an %s address", ErrNoAddress, host, pref.network())
		}
		return addr, nil
	}

	addrs, err := r.LookupNetIP(ctx, pref.network(), host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to resolve %s: %w", host, err)
	}

	var fallback netip.Addr
	for _, a := range addrs {
		a = a.Unmap()
		if !pref.allows(a) {
			continue
		}
		if a.Is4() || pref == IPv6Only {
			log.Debug().Str("host", host).Str("addr", a.String()).Msg("Resolved destination")
			return a, nil
		}
		if !fallback.IsValid() {
			fallback = a
		}
	}
	if fallback.IsValid() {
		log.Debug().Str("host", host).Str("addr", fallback.String()).Msg("Resolved destination")
		return fallback, nil
	}
	return netip.Addr{}, fmt.Errorf("%w for %s (%s)", ErrNoAddress, host, pref.network())
}

func (p Preference) network() string {
	switch p {
	case IPv4Only:
		return "ip4"
	case IPv6Only:
		return "ip6"
	default:
		return "ip"
	}
}

func (p Preference) allows(a netip.Addr) bool {
	switch p {
	case IPv4Only:
		return a.Is4()
	case IPv6Only:
		return a.Is6()
	default:
		return true
	}
}
