// Package api defines the wire types of the mwrpc remote surface.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/srg/mwrpc/internal/device"
)

// Method identifies a remote operation. The numbering is part of the protocol.
type Method int

const (
	MethodGetBoardModel     Method = 1
	MethodGetBatteryLevel   Method = 2
	MethodStartMotor        Method = 3
	MethodStartMotorPattern Method = 4
	MethodStartBuzzer       Method = 5
	MethodStopLED           Method = 6
	MethodStartLED          Method = 7
)

var methodNames = map[Method]string{
	MethodGetBoardModel:     "GetBoardModel",
	MethodGetBatteryLevel:   "GetBatteryLevel",
	MethodStartMotor:        "StartMotor",
	MethodStartMotorPattern: "StartMotorPattern",
	MethodStartBuzzer:       "StartBuzzer",
	MethodStopLED:           "StopLED",
	MethodStartLED:          "StartLED",
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	_, ok := methodNames[m]
	return ok
}

// Address is a board address on the wire. It decodes from either the
// "XX:XX:XX:XX:XX:XX" string form or a JSON number holding the 48-bit value,
// and always encodes as the string form.
type Address device.Address

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(device.Address(a).String())
}

func (a *Address) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := device.ParseAddress(s)
		if err != nil {
			return err
		}
		*a = Address(parsed)
		return nil
	}

	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", device.ErrInvalidAddress, data)
	}
	parsed, err := device.ParseAddress(strconv.FormatUint(v, 10))
	if err != nil {
		return err
	}
	*a = Address(parsed)
	return nil
}

// Params carries the arguments of every method; each method reads the fields it needs.
type Params struct {
	Address    Address `json:"address"`
	DurationMs int     `json:"duration_ms,omitempty"`
	Intensity  float32 `json:"intensity,omitempty"`
	SleepMs    int     `json:"sleep_ms,omitempty"`
	Iterations int     `json:"iterations,omitempty"`
	Color      int     `json:"color,omitempty"`
}

// Request is one websocket call.
type Request struct {
	ID     string `json:"id"`
	Method Method `json:"method"`
	Params Params `json:"params"`
}

// Response answers the Request with the same ID. Error is set only for
// malformed requests; device faults surface as zero results.
type Response struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// REST bodies.

type MotorRequest struct {
	DurationMs int     `json:"duration_ms"`
	Intensity  float32 `json:"intensity"`
}

type PatternRequest struct {
	DurationMs int     `json:"duration_ms"`
	Intensity  float32 `json:"intensity"`
	SleepMs    int     `json:"sleep_ms"`
	Iterations int     `json:"iterations"`
}

type BuzzerRequest struct {
	DurationMs int `json:"duration_ms"`
}

type LEDRequest struct {
	Color int `json:"color"`
}

type ModelResponse struct {
	Address Address `json:"address"`
	Model   string  `json:"model"`
}

type BatteryResponse struct {
	Address Address `json:"address"`
	Level   byte    `json:"level"`
}

type StatusResponse struct {
	Roster         []Address `json:"roster"`
	Connected      []Address `json:"connected"`
	Scanning       bool      `json:"scanning"`
	FullyConnected bool      `json:"fully_connected"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status"`
}

// Addresses converts device addresses for the wire.
func Addresses(in []device.Address) []Address {
	out := make([]Address, len(in))
	for i, a := range in {
		out[i] = Address(a)
	}
	return out
}
