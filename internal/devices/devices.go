// Package devices lists the devices registered to an account and removes the
// ones the user no longer mines from.
package devices

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"warden/internal/types"
)

var (
	// ErrCurrentDevice is returned before any request is made: the device
	// doing the asking can never remove itself.
	ErrCurrentDevice = errors.New("the current device cannot be removed")
	ErrUnknownDevice = errors.New("device not registered to this account")
)

type API interface {
	Devices(ctx context.Context) (*types.DeviceList, error)
	RemoveDevice(ctx context.Context, hash string) error
}

type Manager struct {
	API API
	// CurrentHash is the device hash of this machine, when known.
	CurrentHash string
	Log         logrus.FieldLogger
}

// List returns the registered devices. Records matching CurrentHash are
// marked current even if the server did not say so.
func (m *Manager) List(ctx context.Context) (*types.DeviceList, error) {
	list, err := m.API.Devices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list.Devices {
		if m.CurrentHash != "" && list.Devices[i].FingerprintHash == m.CurrentHash {
			list.Devices[i].IsCurrentDevice = true
		}
	}
	return list, nil
}

// Removable reports whether d may be offered for removal.
func (m *Manager) Removable(d types.DeviceRecord) bool {
	return !d.IsCurrentDevice && d.FingerprintHash != m.CurrentHash
}

// Remove deletes the device with the given hash after checking it is neither
// this device nor flagged current by the server.
func (m *Manager) Remove(ctx context.Context, hash string) error {
	if hash == "" || hash == m.CurrentHash {
		return ErrCurrentDevice
	}
	list, err := m.List(ctx)
	if err != nil {
		return err
	}
	var found *types.DeviceRecord
	for i := range list.Devices {
		if list.Devices[i].FingerprintHash == hash {
			found = &list.Devices[i]
			break
		}
	}
	if found == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, hash)
	}
	if !m.Removable(*found) {
		return ErrCurrentDevice
	}

	if err := m.API.RemoveDevice(ctx, hash); err != nil {
		return err
	}
	m.logger().WithField("device", found.DisplayID).Info("Remove: device removed")
	return nil
}

// Capacity reports how many more devices the account may register.
func Capacity(list *types.DeviceList) int {
	if list == nil || list.MaxDevices <= len(list.Devices) {
		return 0
	}
	return list.MaxDevices - len(list.Devices)
}

func (m *Manager) logger() logrus.FieldLogger {
	if m.Log == nil {
		return logrus.StandardLogger()
	}
	return m.Log
}
