package transport

import (
	"bufio"
	"encoding/binary"
	"net"
	"os"
	"strconv"
	"strings"
)

// DefaultGatewayAddr returns the IPv4 default gateway of this guest, which
// inside a NAT-backed VM is the host itself. Falls back to loopback when no
// default route can be read.
func DefaultGatewayAddr() string {
	addr, err := defaultGatewayFrom("/proc/net/route")
	if err != nil {
		return "127.0.0.1"
	}
	return addr
}

func defaultGatewayFrom(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// Destination 00000000 marks the default route; the gateway column is
	// a little-endian hex IPv4 address.
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 || fields[1] != "00000000" {
			continue
		}
		raw, err := strconv.ParseUint(fields[2], 16, 32)
		if err != nil {
			continue
		}
		var ip [4]byte
		binary.LittleEndian.PutUint32(ip[:], uint32(raw))
		return net.IP(ip[:]).String(), nil
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", os.ErrNotExist
}
