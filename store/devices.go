package store

import (
	"context"
	"time"
)

// Device is the legacy flat device row.
type Device struct {
	ID            int64      `json:"id"`
	DeviceID      string     `json:"device_id"`
	Name          string     `json:"name"`
	DeviceType    string     `json:"device_type"`
	Brand         string     `json:"brand"`
	Model         string     `json:"model"`
	IPAddress     string     `json:"ip_address"`
	Port          int        `json:"port"`
	Protocol      string     `json:"protocol"`
	WorkstationID string     `json:"workstation_id"`
	Status        string     `json:"status"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// DeviceTemplate describes a device model shared by instances.
type DeviceTemplate struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	DeviceType  string `json:"device_type"`
	Brand       string `json:"brand"`
	Model       string `json:"model"`
	Protocol    string `json:"protocol"`
	DefaultPort int    `json:"default_port"`
}

// WorkstationDevice is a template instance bound to a workstation.
type WorkstationDevice struct {
	ID            int64      `json:"id"`
	InstanceID    string     `json:"instance_id"`
	WorkstationID string     `json:"workstation_id"`
	TemplateID    int64      `json:"template_id"`
	Name          string     `json:"name"`
	IPAddress     string     `json:"ip_address"`
	Port          int        `json:"port"` // 0 means the template default
	Status        string     `json:"status"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`

	Template DeviceTemplate `json:"template"`
}

func (q *Queries) CreateDevice(ctx context.Context, d *Device) (int64, error) {
	if d.Status == "" {
		d.Status = "OFFLINE"
	}
	var id int64
	err := q.r.QueryRowContext(ctx, q.q(`INSERT INTO devices (device_id, name, device_type, brand, model,
		ip_address, port, protocol, workstation_id, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		d.DeviceID, d.Name, d.DeviceType, d.Brand, d.Model, d.IPAddress, d.Port, d.Protocol,
		d.WorkstationID, d.Status).Scan(&id)
	if err != nil {
		return 0, conflict(err, "store.CreateDevice", "", "device %s already exists", d.DeviceID)
	}
	d.ID = id
	return id, nil
}

func (q *Queries) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	var d Device
	var hb any
	err := q.r.QueryRowContext(ctx, q.q(`SELECT id, device_id, name, device_type, brand, model, ip_address,
		port, protocol, workstation_id, status, last_heartbeat FROM devices WHERE device_id=?`), deviceID).
		Scan(&d.ID, &d.DeviceID, &d.Name, &d.DeviceType, &d.Brand, &d.Model, &d.IPAddress, &d.Port,
			&d.Protocol, &d.WorkstationID, &d.Status, &hb)
	if err != nil {
		return nil, notFound(err, "store.GetDevice", "device %s not found", deviceID)
	}
	d.LastHeartbeat = parseTimePtr(hb)
	return &d, nil
}

func (q *Queries) CreateDeviceTemplate(ctx context.Context, t *DeviceTemplate) (int64, error) {
	var id int64
	err := q.r.QueryRowContext(ctx, q.q(`INSERT INTO device_templates (code, device_type, brand, model, protocol, default_port)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		t.Code, t.DeviceType, t.Brand, t.Model, t.Protocol, t.DefaultPort).Scan(&id)
	if err != nil {
		return 0, conflict(err, "store.CreateDeviceTemplate", "", "template %s already exists", t.Code)
	}
	t.ID = id
	return id, nil
}

func (q *Queries) CreateWorkstationDevice(ctx context.Context, d *WorkstationDevice) (int64, error) {
	if d.Status == "" {
		d.Status = "OFFLINE"
	}
	var id int64
	err := q.r.QueryRowContext(ctx, q.q(`INSERT INTO workstation_devices (instance_id, workstation_id,
		template_id, name, ip_address, port, status)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		d.InstanceID, d.WorkstationID, d.TemplateID, d.Name, d.IPAddress, d.Port, d.Status).Scan(&id)
	if err != nil {
		return 0, conflict(err, "store.CreateWorkstationDevice", "", "device %s already exists", d.InstanceID)
	}
	d.ID = id
	return id, nil
}

// GetWorkstationDevice loads an instance joined with its template.
func (q *Queries) GetWorkstationDevice(ctx context.Context, instanceID string) (*WorkstationDevice, error) {
	var d WorkstationDevice
	var hb any
	err := q.r.QueryRowContext(ctx, q.q(`SELECT wd.id, wd.instance_id, wd.workstation_id, wd.template_id,
		wd.name, wd.ip_address, wd.port, wd.status, wd.last_heartbeat,
		t.id, t.code, t.device_type, t.brand, t.model, t.protocol, t.default_port
		FROM workstation_devices wd JOIN device_templates t ON t.id = wd.template_id
		WHERE wd.instance_id=?`), instanceID).
		Scan(&d.ID, &d.InstanceID, &d.WorkstationID, &d.TemplateID, &d.Name, &d.IPAddress, &d.Port,
			&d.Status, &hb, &d.Template.ID, &d.Template.Code, &d.Template.DeviceType, &d.Template.Brand,
			&d.Template.Model, &d.Template.Protocol, &d.Template.DefaultPort)
	if err != nil {
		return nil, notFound(err, "store.GetWorkstationDevice", "device %s not found", instanceID)
	}
	d.LastHeartbeat = parseTimePtr(hb)
	return &d, nil
}

// SetDeviceStatus updates status (and heartbeat when non-nil) in whichever
// table holds the device. It reports whether any row matched.
func (q *Queries) SetDeviceStatus(ctx context.Context, deviceID, status string, heartbeat *time.Time) (bool, error) {
	var total int64
	for _, stmt := range []string{
		`UPDATE devices SET status=?, last_heartbeat=COALESCE(?, last_heartbeat) WHERE device_id=?`,
		`UPDATE workstation_devices SET status=?, last_heartbeat=COALESCE(?, last_heartbeat) WHERE instance_id=?`,
	} {
		res, err := q.r.ExecContext(ctx, q.q(stmt), status, q.tsPtr(heartbeat), deviceID)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		total += n
	}
	return total > 0, nil
}

// ListWorkstationDeviceIDs returns the ids of every device bound to a
// workstation across both tables.
func (q *Queries) ListWorkstationDeviceIDs(ctx context.Context, workstationID string) ([]string, error) {
	rows, err := q.r.QueryContext(ctx, q.q(`SELECT device_id FROM devices WHERE workstation_id=?
		UNION SELECT instance_id FROM workstation_devices WHERE workstation_id=?
		ORDER BY 1`), workstationID, workstationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeviceStatusRow is a light listing row for the devices page.
type DeviceStatusRow struct {
	DeviceID      string     `json:"device_id"`
	Source        string     `json:"source"`
	Status        string     `json:"status"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// ListDeviceStatuses lists every device in both tables.
func (q *Queries) ListDeviceStatuses(ctx context.Context) ([]DeviceStatusRow, error) {
	rows, err := q.r.QueryContext(ctx, `SELECT device_id, 'legacy', status, last_heartbeat FROM devices
		UNION ALL SELECT instance_id, 'template', status, last_heartbeat FROM workstation_devices
		ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DeviceStatusRow
	for rows.Next() {
		var r DeviceStatusRow
		var hb any
		if err := rows.Scan(&r.DeviceID, &r.Source, &r.Status, &hb); err != nil {
			return nil, err
		}
		r.LastHeartbeat = parseTimePtr(hb)
		out = append(out, r)
	}
	return out, rows.Err()
}
