package serverdb

import (
	"fmt"
)

// RegisterDevice records a linked device, refreshing last_seen_at when the
// device relinks.
func (s *Store) RegisterDevice(deviceID, deviceName string) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}
	_, err := s.conn.Exec(`
		INSERT INTO devices (device_id, device_name)
		VALUES ($1, $2)
		ON CONFLICT (device_id) DO UPDATE
		SET device_name = CASE WHEN EXCLUDED.device_name != '' THEN EXCLUDED.device_name ELSE devices.device_name END,
		    last_seen_at = now()`,
		deviceID, deviceName)
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

// TouchDevice bumps last_seen_at for an authenticated request.
func (s *Store) TouchDevice(deviceID string) error {
	_, err := s.conn.Exec(`UPDATE devices SET last_seen_at = now() WHERE device_id = $1`, deviceID)
	return err
}
