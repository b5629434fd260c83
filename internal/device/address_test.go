package device

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Address
	}{
		{
			name:     "canonical upper-case",
			input:    "F6:E9:DD:B4:CF:4A",
			expected: 0xF6E9DDB4CF4A,
		},
		{
			name:     "lower-case with colons",
			input:    "f6:e9:dd:b4:cf:4a",
			expected: 0xF6E9DDB4CF4A,
		},
		{
			name:     "dash separators",
			input:    "F6-E9-DD-B4-CF-4A",
			expected: 0xF6E9DDB4CF4A,
		},
		{
			name:     "surrounding whitespace and CR from a windows roster file",
			input:    "  D2:80:93:BC:8C:FD\r",
			expected: 0xD28093BC8CFD,
		},
		{
			name:     "hex number",
			input:    "0xAAAAAAAAAAAA",
			expected: 0xAAAAAAAAAAAA,
		},
		{
			name:     "decimal number",
			input:    "271484307427146",
			expected: 0xF6E9DDB4CF4A,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseAddress(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, addr)
		})
	}
}

func TestParseAddress_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "too few octets", input: "AA:BB:CC:DD:EE"},
		{name: "too many octets", input: "AA:BB:CC:DD:EE:FF:00"},
		{name: "bad hex octet", input: "AA:BB:CC:DD:EE:GG"},
		{name: "short octet", input: "AA:BB:CC:DD:EE:F"},
		{name: "not a number", input: "board-one"},
		{name: "wider than 48 bits", input: "0x1000000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAddress(tt.input)
			assert.ErrorIs(t, err, ErrInvalidAddress)
		})
	}
}

func TestAddress_String(t *testing.T) {
	assert.Equal(t, "F6:E9:DD:B4:CF:4A", Address(0xF6E9DDB4CF4A).String())
	assert.Equal(t, "00:00:00:00:00:01", Address(1).String())

	addr := MustParseAddress("ec:31:87:17:9e:bd")
	assert.Equal(t, "EC:31:87:17:9E:BD", addr.String(), "String MUST return the canonical form")
}

func TestAddress_JSON(t *testing.T) {
	type payload struct {
		Address Address `json:"address"`
	}

	data, err := json.Marshal(payload{Address: MustParseAddress("D6:0E:AB:0D:C3:1E")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"address":"D6:0E:AB:0D:C3:1E"}`, string(data))

	var decoded payload
	require.NoError(t, json.Unmarshal([]byte(`{"address":"ff:df:fa:75:18:d5"}`), &decoded))
	assert.Equal(t, MustParseAddress("FF:DF:FA:75:18:D5"), decoded.Address)

	err = json.Unmarshal([]byte(`{"address":"nope"}`), &decoded)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestMustParseAddress_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParseAddress("not-an-address") })
}
