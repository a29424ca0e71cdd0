package ipc

import "testing"

func TestParseAddressRangeValid(t *testing.T) {
	tests := []struct {
		name string
		addr string
		host string
		min  uint64
		max  uint64
	}{
		{name: "SinglePort", addr: "example.com:2000", host: "example.com", min: 2000, max: 2000},
		{name: "Range", addr: "example.com:2000-2005", host: "example.com", min: 2000, max: 2005},
		{name: "IPv4Range", addr: "0.0.0.0:1-65535", host: "0.0.0.0", min: 1, max: 65535},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ar, err := ParseAddressRange(tt.addr)
			if err != nil {
				t.Fatalf("ParseAddressRange(%q) unexpected error: %v", tt.addr, err)
			}

			if ar.Host != tt.host {
				t.Fatalf("expected host %q, got %q", tt.host, ar.Host)
			}

			if ar.MinPort != tt.min || ar.MaxPort != tt.max {
				t.Fatalf("expected ports [%d,%d], got [%d,%d]", tt.min, tt.max, ar.MinPort, ar.MaxPort)
			}
		})
	}
}

func TestParseAddressRangeInvalid(t *testing.T) {
	tests := []struct {
		name string
		addr string
	}{
		{name: "MissingPort", addr: "example.com"},
		{name: "ZeroPort", addr: "example.com:0"},
		{name: "PortTooLarge", addr: "example.com:70000"},
		{name: "MaxLessThanMin", addr: "example.com:3000-2000"},
		{name: "HighRange", addr: "example.com:65534-70000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAddressRange(tt.addr); err == nil {
				t.Fatalf("ParseAddressRange(%q) expected error", tt.addr)
			}
		})
	}
}

func TestAddressRangePorts(t *testing.T) {
	ar, err := ParseAddressRange("host:100-103")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ports := ar.Ports()
	want := []uint64{100, 101, 102, 103}
	if len(ports) != len(want) {
		t.Fatalf("expected %d ports, got %d", len(want), len(ports))
	}
	for i, p := range want {
		if ports[i] != p {
			t.Fatalf("expected port %d at index %d, got %d", p, i, ports[i])
		}
	}
}
