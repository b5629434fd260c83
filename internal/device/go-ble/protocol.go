package goble

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/mwrpc/internal/device"
)

// GATT layout of a MetaWear board.
var (
	MetaWearServiceUUID = ble.MustParse("326a9000-85cb-9195-d9dd-464cfbbae75a")
	CommandCharUUID     = ble.MustParse("326a9001-85cb-9195-d9dd-464cfbbae75a")
	NotifyCharUUID      = ble.MustParse("326a9006-85cb-9195-d9dd-464cfbbae75a")

	// MetaBootServiceUUID is the DFU service a board exposes when it sits in the bootloader.
	MetaBootServiceUUID = ble.MustParse("00001530-1212-efde-1523-785feabcd123")

	DeviceInfoServiceUUID = ble.UUID16(0x180a)
	ModelNumberCharUUID   = ble.UUID16(0x2a24)
	BatteryServiceUUID    = ble.UUID16(0x180f)
	BatteryLevelCharUUID  = ble.UUID16(0x2a19)
)

// Module ids of the firmware command protocol.
const (
	moduleLED        byte = 0x02
	moduleHaptic     byte = 0x08
	moduleDataProc   byte = 0x09
	moduleEvent      byte = 0x0a
	moduleLogging    byte = 0x0b
	moduleDebug      byte = 0x0f
	moduleSettings   byte = 0x11
	registerInfo     byte = 0x80
	readFlag         byte = 0x80
	registerBattery  byte = 0x0c
	hapticPulse      byte = 0x01
	ledPlay          byte = 0x01
	ledStop          byte = 0x02
	ledConfig        byte = 0x03
	debugDisconnect  byte = 0x06
	eventRemoveAll   byte = 0x05
	dataRemoveAll    byte = 0x08
	loggingRemoveAll byte = 0x09

	motorMaxDuty  = 248.0
	buzzerDuty    = 127
	ledModeCustom = 0x02
)

// moduleInfoCommand asks the firmware whether a module is implemented.
func moduleInfoCommand(module byte) []byte {
	return []byte{module, registerInfo}
}

// moduleImplemented interprets a module info response.
// An unimplemented module answers with just its two header bytes.
func moduleImplemented(resp []byte) bool {
	return len(resp) > 2
}

func batteryStateCommand() []byte {
	return []byte{moduleSettings, readFlag | registerBattery}
}

// batteryCharge extracts the charge percentage from a battery state response.
func batteryCharge(resp []byte) (byte, error) {
	if len(resp) < 3 {
		return 0, fmt.Errorf("short battery response: % x", resp)
	}
	return resp[2], nil
}

func clampMillis(d time.Duration) uint16 {
	return uint16(device.ClampPulse(d).Milliseconds())
}

// motorCommand drives the vibration motor. intensity is a percentage in [0,100].
func motorCommand(d time.Duration, intensity float32) []byte {
	if intensity < 0 {
		intensity = 0
	}
	if intensity > 100 {
		intensity = 100
	}
	duty := byte(float64(intensity) / 100 * motorMaxDuty)

	cmd := []byte{moduleHaptic, hapticPulse, duty, 0, 0, 0}
	binary.LittleEndian.PutUint16(cmd[3:5], clampMillis(d))
	return cmd
}

func buzzerCommand(d time.Duration) []byte {
	cmd := []byte{moduleHaptic, hapticPulse, buzzerDuty, 0, 0, 1}
	binary.LittleEndian.PutUint16(cmd[3:5], clampMillis(d))
	return cmd
}

func ledPlayCommand() []byte {
	return []byte{moduleLED, ledPlay, 0x01}
}

func ledStopCommand(reset bool) []byte {
	var r byte
	if reset {
		r = 1
	}
	return []byte{moduleLED, ledStop, r}
}

func ledPatternCommand(p device.LEDPattern) []byte {
	cmd := make([]byte, 17)
	cmd[0], cmd[1] = moduleLED, ledConfig
	cmd[2] = byte(p.Color)
	cmd[3] = ledModeCustom
	cmd[4] = p.HighIntensity
	cmd[5] = p.LowIntensity
	binary.LittleEndian.PutUint16(cmd[6:8], clampMillis(p.RiseTime))
	binary.LittleEndian.PutUint16(cmd[8:10], clampMillis(p.HighTime))
	binary.LittleEndian.PutUint16(cmd[10:12], clampMillis(p.FallTime))
	binary.LittleEndian.PutUint16(cmd[12:14], clampMillis(p.Duration))
	binary.LittleEndian.PutUint16(cmd[14:16], clampMillis(p.Delay))
	cmd[16] = p.RepeatCount
	return cmd
}

func debugDisconnectCommand() []byte {
	return []byte{moduleDebug, debugDisconnect}
}

// teardownCommands clears every event, data processor and logger on the board.
func teardownCommands() [][]byte {
	return [][]byte{
		{moduleEvent, eventRemoveAll},
		{moduleDataProc, dataRemoveAll},
		{moduleLogging, loggingRemoveAll},
	}
}

// responseKey identifies the pending request a notification answers.
func responseKey(module, register byte) uint16 {
	return uint16(module)<<8 | uint16(register)
}

var modelNames = map[string]string{
	"0": "MetaWear R",
	"1": "MetaWear RG",
	"2": "MetaWear C",
	"3": "MetaEnvironment",
	"4": "MetaDetector",
	"5": "MetaHealth",
	"6": "MetaTracker",
	"7": "MetaMotion R",
	"8": "MetaMotion C",
	"9": "MetaMotion S",
}

// modelName turns the Device Information model number into a display name.
func modelName(modelNumber string) string {
	if modelNumber == "" {
		return ""
	}
	if name, ok := modelNames[modelNumber]; ok {
		return name
	}
	return fmt.Sprintf("MetaWear (model %s)", modelNumber)
}
