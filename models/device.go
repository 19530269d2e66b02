package models

import "time"

// Device connection states.
const (
	ConnectionConnected    = "connected"
	ConnectionDisconnected = "disconnected"
)

// Device types carried by the pairing catalog.
const (
	DeviceTypeWatch = "watch"
	DeviceTypeRing  = "ring"
	DeviceTypeScale = "scale"
	DeviceTypeBand  = "band"
)

// Device represents a wearable known to the household. Catalog entries carry
// only identity fields; pairing stamps the connection metadata.
type Device struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Model            string    `json:"model"`
	DeviceType       string    `json:"deviceType"`
	Image            string    `json:"image,omitempty"`
	ConnectionStatus string    `json:"connectionStatus,omitempty"`
	BatteryLevel     int       `json:"batteryLevel,omitempty"`
	LastSync         time.Time `json:"lastSync,omitempty"`
}
