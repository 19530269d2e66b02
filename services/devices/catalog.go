package devices

import "pulsehub/models"

// catalog is the fixed pool of pairable devices. Entries carry identity only;
// connection metadata is stamped at pairing time.
var catalog = []models.Device{
	{
		ID:         "ph-watch-01",
		Name:       "Pulse Watch S",
		Model:      "PW-S100",
		DeviceType: models.DeviceTypeWatch,
		Image:      "/images/devices/pulse-watch-s.png",
	},
	{
		ID:         "ph-watch-02",
		Name:       "Pulse Watch Pro",
		Model:      "PW-P200",
		DeviceType: models.DeviceTypeWatch,
		Image:      "/images/devices/pulse-watch-pro.png",
	},
	{
		ID:         "ph-ring-01",
		Name:       "Pulse Ring",
		Model:      "PR-R50",
		DeviceType: models.DeviceTypeRing,
		Image:      "/images/devices/pulse-ring.png",
	},
	{
		ID:         "ph-band-01",
		Name:       "Pulse Band Lite",
		Model:      "PB-L30",
		DeviceType: models.DeviceTypeBand,
		Image:      "/images/devices/pulse-band-lite.png",
	},
	{
		ID:         "ph-scale-01",
		Name:       "Pulse Scale",
		Model:      "PS-W10",
		DeviceType: models.DeviceTypeScale,
		Image:      "/images/devices/pulse-scale.png",
	},
	{
		ID:         "ph-watch-03",
		Name:       "Pulse Watch Kids",
		Model:      "PW-K80",
		DeviceType: models.DeviceTypeWatch,
		Image:      "/images/devices/pulse-watch-kids.png",
	},
}

// Catalog returns a copy of the pairable-device pool.
func Catalog() []models.Device {
	out := make([]models.Device, len(catalog))
	copy(out, catalog)
	return out
}
