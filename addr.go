package ipc

import (
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// AddressRange is a host plus an inclusive port range, e.g. "10.0.0.1:4000-4010".
// ParseAddressRange parses one. Service does not use it: BaseAddress,
// AcceptAddress and GatewayAddressVector entries are each resolved as a
// single host:port address.
type AddressRange struct {
	Host    string
	MinPort uint64
	MaxPort uint64
}

var addressRangeMatcher = regexp.MustCompile(`(.*):([0-9]{1,5})-?([0-9]{1,5})?`)

// ParseAddressRange parses a "host:port" or "host:minport-maxport" spec.
func ParseAddressRange(addr string) (*AddressRange, error) {
	matches := addressRangeMatcher.FindStringSubmatch(addr)

	if len(matches) >= 4 {
		var minPort, maxPort int
		minPort, err := strconv.Atoi(matches[2])
		if err != nil {
			return nil, errors.WithStack(err)
		}
		maxPort = minPort

		if matches[3] != "" {
			maxPort, err = strconv.Atoi(matches[3])
			if err != nil {
				return nil, errors.WithStack(err)
			}
		}

		if (minPort > maxPort) || minPort > 65535 || maxPort > 65535 || minPort == 0 || maxPort == 0 {
			return nil, errors.Errorf("invalid port range specified: minport:%v -> maxport %v", minPort, maxPort)
		}

		ar := new(AddressRange)
		ar.Host = matches[1]
		ar.MinPort = uint64(minPort)
		ar.MaxPort = uint64(maxPort)
		return ar, nil
	}

	return nil, errors.Errorf("malformed address: %v", addr)
}

// Ports enumerates every port in the range.
func (ar *AddressRange) Ports() []uint64 {
	ports := make([]uint64, 0, ar.MaxPort-ar.MinPort+1)
	for p := ar.MinPort; p <= ar.MaxPort; p++ {
		ports = append(ports, p)
	}
	return ports
}
