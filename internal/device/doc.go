// Package device defines the boundary between the connection engine and the radio.
//
// It provides:
//   - Address, the 48-bit hardware address used as the key for rosters and sessions
//   - Scanner, the discovery adapter that reports advertising devices
//   - Board, a per-device transport handle with connect, disconnect and teardown
//   - Haptic and LED capability surfaces, looked up through a fixed Capabilities set
//   - typed connection errors comparable with errors.Is
//
// The go-ble backed implementation lives in the go-ble subpackage.
package device
