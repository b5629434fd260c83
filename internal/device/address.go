package device

import (
	"fmt"
	"strconv"
	"strings"
)

// maxAddress is the largest value a 48-bit hardware address can hold.
const maxAddress = 1<<48 - 1

// Address is a 48-bit Bluetooth hardware address.
//
// The canonical string form is six upper-case hex octets separated by colons,
// most significant octet first: "F6:E9:DD:B4:CF:4A".
type Address uint64

// ParseAddress parses an address in one of the accepted forms:
//   - "F6:E9:DD:B4:CF:4A" or "f6-e9-dd-b4-cf-4a" (any case, ':' or '-' separators)
//   - "0xF6E9DDB4CF4A" (hex number)
//   - "271484307427146" (decimal number, the form used by numeric RPC clients)
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}

	if strings.ContainsAny(s, ":-") {
		return parseOctets(s)
	}

	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
	}

	v, err := strconv.ParseUint(digits, base, 64)
	if err != nil || v > maxAddress {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return Address(v), nil
}

func parseOctets(s string) (Address, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '-' })
	if len(parts) != 6 {
		return 0, fmt.Errorf("%w: %q must have 6 octets", ErrInvalidAddress, s)
	}

	var v uint64
	for _, p := range parts {
		if len(p) != 2 {
			return 0, fmt.Errorf("%w: %q has malformed octet %q", ErrInvalidAddress, s, p)
		}
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return 0, fmt.Errorf("%w: %q has malformed octet %q", ErrInvalidAddress, s, p)
		}
		v = v<<8 | b
	}
	return Address(v), nil
}

// MustParseAddress is like ParseAddress but panics on error. Intended for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the canonical "XX:XX:XX:XX:XX:XX" form.
func (a Address) String() string {
	v := uint64(a)
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		byte(v>>40), byte(v>>32), byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// MarshalText implements encoding.TextMarshaler so addresses serialize in canonical form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
