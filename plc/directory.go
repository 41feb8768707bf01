package plc

import (
	"context"
	"errors"
	"time"

	"simplemes/errs"
	"simplemes/store"
)

// DeviceInfo is the single resolved view of a physical device, whichever
// table it was registered in.
type DeviceInfo struct {
	DeviceID    string `json:"deviceId"`
	DeviceType  string `json:"deviceType"`
	IPAddress   string `json:"ipAddress"`
	Port        int    `json:"port"`
	Brand       string `json:"brand"`
	Model       string `json:"model"`
	Protocol    string `json:"protocol"`
	LogicalType string `json:"logicalType"`
}

// DeviceDirectory resolves device ids and records connection state.
type DeviceDirectory interface {
	Resolve(ctx context.Context, deviceID string) (DeviceInfo, error)
	MarkStatus(ctx context.Context, deviceID, status string, heartbeat *time.Time) error
}

type deviceStore interface {
	GetDevice(ctx context.Context, deviceID string) (*store.Device, error)
	GetWorkstationDevice(ctx context.Context, instanceID string) (*store.WorkstationDevice, error)
	SetDeviceStatus(ctx context.Context, deviceID, status string, heartbeat *time.Time) (bool, error)
}

// StoreDirectory looks devices up in the legacy table first, then in the
// template-based table.
type StoreDirectory struct {
	db deviceStore
}

func NewStoreDirectory(db deviceStore) *StoreDirectory {
	return &StoreDirectory{db: db}
}

func (d *StoreDirectory) Resolve(ctx context.Context, deviceID string) (DeviceInfo, error) {
	legacy, err := d.db.GetDevice(ctx, deviceID)
	if err == nil {
		return DeviceInfo{
			DeviceID:    legacy.DeviceID,
			DeviceType:  legacy.DeviceType,
			IPAddress:   legacy.IPAddress,
			Port:        legacy.Port,
			Brand:       legacy.Brand,
			Model:       legacy.Model,
			Protocol:    legacy.Protocol,
			LogicalType: legacy.DeviceType,
		}, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return DeviceInfo{}, err
	}

	inst, err := d.db.GetWorkstationDevice(ctx, deviceID)
	if err == nil {
		port := inst.Port
		if port == 0 {
			port = inst.Template.DefaultPort
		}
		return DeviceInfo{
			DeviceID:    inst.InstanceID,
			DeviceType:  inst.Template.DeviceType,
			IPAddress:   inst.IPAddress,
			Port:        port,
			Brand:       inst.Template.Brand,
			Model:       inst.Template.Model,
			Protocol:    inst.Template.Protocol,
			LogicalType: inst.Template.DeviceType,
		}, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return DeviceInfo{}, err
	}
	return DeviceInfo{}, errs.NotFound("plc.Resolve", "device %s not registered", deviceID).
		WithCode(errs.CodeDeviceNotFound)
}

func (d *StoreDirectory) MarkStatus(ctx context.Context, deviceID, status string, heartbeat *time.Time) error {
	_, err := d.db.SetDeviceStatus(ctx, deviceID, status, heartbeat)
	return err
}
