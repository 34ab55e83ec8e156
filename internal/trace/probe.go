package trace

import (
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// resolveAddress turns a caller-supplied address string into an IPv4
// address. Numeric addresses parse directly; anything else goes through
// the standard resolver. IPv6 destinations are out of scope (§ wire
// behaviour: "No ICMPv6 support in-scope").
func resolveAddress(address string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(address); err == nil {
		if addr.Is4() {
			return addr, nil
		}
		if addr.Is4In6() {
			return addr.Unmap(), nil
		}
	}

	ipAddr, err := net.ResolveIPAddr("ip4", address)
	if err != nil {
		return netip.Addr{}, err
	}

	addr, ok := netip.AddrFromSlice(ipAddr.IP.To4())
	if !ok {
		return netip.Addr{}, unix.EAFNOSUPPORT
	}

	return addr, nil
}

// sendProbe issues one UDP probe for trace at its current nextTTL,
// resolving the destination address on the first call. On success it
// installs the socket into slotIdx (fd and pollfd) and returns true; on
// failure it records a distinct status on trace and returns false.
func (c *Context) sendProbe(slotIdx int, t *Trace) bool {
	if !t.resolvedAddr.IsValid() {
		addr, err := resolveAddress(t.address)
		if err != nil {
			t.status = StatusFailedAddr
			return false
		}
		t.resolvedAddr = addr
		t.address = ""
	}

	port := c.basePort + t.nextTTL
	sa := &unix.SockaddrInet4{Port: port, Addr: t.resolvedAddr.As4()}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		t.status = StatusFailedSocket
		return false
	}

	// Best-effort: these options make the diagnostic information richer
	// (PMTU discovery on with DF set, TTL in ancillary data, TTL on the wire,
	// ICMP errors on the error queue) but their absence doesn't prevent
	// the probe from being meaningful.
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO)
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_RECVTTL, 1)
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TTL, t.nextTTL)
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_RECVERR, 1)
	_ = unix.SetNonblock(fd, true)

	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		t.status = StatusFailedConnect
		return false
	}

	if err := unix.Sendto(fd, c.payload, 0, sa); err != nil {
		_ = unix.Close(fd)
		t.status = StatusFailedSend
		return false
	}

	c.slots[slotIdx].fd = fd
	c.pollFds[slotIdx].Fd = int32(fd)
	c.pollFds[slotIdx].Events = unix.POLLERR

	return true
}
