package portal

import (
	"fmt"
	"net"
	"net/netip"

	pkgerrors "netaccess/pkg/errors"
)

// AddressResolver determines the caller's own network address.
type AddressResolver interface {
	LocalAddr() (netip.Addr, error)
}

// AddressResolverFunc adapts a function to AddressResolver.
type AddressResolverFunc func() (netip.Addr, error)

func (f AddressResolverFunc) LocalAddr() (netip.Addr, error) { return f() }

// StaticAddress always resolves to the same address.
func StaticAddress(ip netip.Addr) AddressResolver {
	return AddressResolverFunc(func() (netip.Addr, error) { return ip, nil })
}

// RouteResolver picks the source address the kernel would use to reach
// Target. A UDP "dial" sends no packets.
type RouteResolver struct {
	Target string
}

// DefaultResolver routes towards a public address.
var DefaultResolver = RouteResolver{Target: "1.1.1.1:80"}

func (r RouteResolver) LocalAddr() (netip.Addr, error) {
	conn, err := net.Dial("udp", r.Target)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %v", pkgerrors.ErrLocalAddress, err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, fmt.Errorf("%w: unexpected address type %T", pkgerrors.ErrLocalAddress, conn.LocalAddr())
	}
	ip, ok := netip.AddrFromSlice(addr.IP)
	if !ok {
		return netip.Addr{}, fmt.Errorf("%w: invalid address %s", pkgerrors.ErrLocalAddress, addr.IP)
	}
	return ip.Unmap(), nil
}
