package trace

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

// ICMP origin/type/code values relevant to hop discovery. Defined
// locally (rather than sourced from golang.org/x/sys/unix, which does
// not expose the ICMP protocol constants) to decode the
// sock_extended_err control message by hand.
const (
	soEEOriginICMP    = 2
	icmpTimeExceeded  = 11
	icmpExcTTL        = 0
	extendedErrHdrLen = 16 // struct sock_extended_err: 4 uint32-sized fields
)

// recvReply drains one message off fd's IP error queue and, if it
// carries a TIME_EXCEEDED/EXC_TTL notification, returns the offending
// router's address.
func recvReply(fd int) (netip.Addr, bool) {
	buf := make([]byte, 1280)
	oob := make([]byte, 1024)

	_, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, unix.MSG_ERRQUEUE)
	if err != nil {
		return netip.Addr{}, false
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return netip.Addr{}, false
	}

	for _, m := range msgs {
		if m.Header.Level != unix.IPPROTO_IP || int(m.Header.Type) != unix.IP_RECVERR {
			continue
		}

		addr, ok := parseExtendedErr(m.Data)
		if ok {
			return addr, true
		}
	}

	return netip.Addr{}, false
}

// parseExtendedErr decodes a struct sock_extended_err followed by the
// offending party's struct sockaddr_in (SO_EE_OFFENDER), reporting the
// offender's address only for an ICMP TIME_EXCEEDED/EXC_TTL
// notification.
func parseExtendedErr(data []byte) (netip.Addr, bool) {
	if len(data) < extendedErrHdrLen+8 {
		return netip.Addr{}, false
	}

	origin := data[4]
	errType := data[5]
	code := data[6]

	if origin != soEEOriginICMP || errType != icmpTimeExceeded || code != icmpExcTTL {
		return netip.Addr{}, false
	}

	// struct sockaddr_in immediately follows the fixed header: 2 bytes
	// family, 2 bytes port (both ignored here), 4 bytes address.
	offender := data[extendedErrHdrLen:]
	if len(offender) < 8 {
		return netip.Addr{}, false
	}

	var ip [4]byte
	copy(ip[:], offender[4:8]) // already in network byte order

	return netip.AddrFrom4(ip), true
}
