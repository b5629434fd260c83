package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/mwrpc/internal/device"
	"github.com/srg/mwrpc/internal/device/go-ble"
)

// AdapterFactory opens the BLE radio the daemon drives.
// This is a variable so that it can be overridden in tests.
var AdapterFactory = func(logger *logrus.Logger, opts goble.BoardOptions) (device.Adapter, error) {
	adapter, err := goble.NewAdapter(logger, opts)
	if err != nil {
		return nil, err
	}
	return adapter, nil
}
