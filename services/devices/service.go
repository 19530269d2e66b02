// Package devices owns the paired-device list and the available-for-pairing
// pool. Pairing is simulated: a fixed, cancelable handshake delay followed by
// a local-state write.
package devices

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"pulsehub/models"
	"pulsehub/services/events"
	"pulsehub/storage"
)

// ErrRegistryClosed is returned by Pair when the registry was torn down while
// a handshake was still in flight.
var ErrRegistryClosed = errors.New("device registry closed")

// Service manages device pairing state.
type Service struct {
	store    storage.Store
	notifier *events.Notifier
	delay    time.Duration

	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

// NewService creates a registry whose simulated handshake takes delay.
func NewService(store storage.Store, notifier *events.Notifier, delay time.Duration) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		delay:    delay,
		closed:   make(chan struct{}),
	}
}

// Close cancels in-flight pairing handshakes. Idempotent.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// ListPaired returns the currently paired devices.
func (s *Service) ListPaired(ctx context.Context) ([]models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairedLocked(ctx)
}

// ListAvailable returns the catalog minus the devices already paired.
func (s *Service) ListAvailable(ctx context.Context) ([]models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paired, err := s.pairedLocked(ctx)
	if err != nil {
		return nil, err
	}
	pairedIDs := make(map[string]bool, len(paired))
	for _, d := range paired {
		pairedIDs[d.ID] = true
	}

	available := make([]models.Device, 0, len(catalog))
	for _, d := range catalog {
		if !pairedIDs[d.ID] {
			available = append(available, d)
		}
	}
	return available, nil
}

// Get returns the paired device with the given id.
func (s *Service) Get(ctx context.Context, id string) (models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paired, err := s.pairedLocked(ctx)
	if err != nil {
		return models.Device{}, err
	}
	for _, d := range paired {
		if d.ID == id {
			return d, nil
		}
	}
	return models.Device{}, fmt.Errorf("device %q: %w", id, models.ErrNotFound)
}

// IsPaired reports whether the device id is in the paired list.
func (s *Service) IsPaired(ctx context.Context, id string) (bool, error) {
	_, err := s.Get(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Pair runs the simulated handshake and appends the device to the paired
// list. Pairing an already-paired device returns the stored entry unchanged.
// The handshake is cancelable through ctx and through Close.
func (s *Service) Pair(ctx context.Context, deviceID string) (models.Device, error) {
	var entry models.Device
	found := false
	for _, d := range catalog {
		if d.ID == deviceID {
			entry = d
			found = true
			break
		}
	}
	if !found {
		return models.Device{}, fmt.Errorf("device %q: %w", deviceID, models.ErrNotFound)
	}

	if existing, err := s.Get(ctx, deviceID); err == nil {
		return existing, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return models.Device{}, err
	}

	// Simulated connection handshake. The lock is not held while waiting so
	// reads and unrelated pairings proceed during the delay.
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		log.Printf("[devices] pairing %s canceled: %v", deviceID, ctx.Err())
		return models.Device{}, ctx.Err()
	case <-s.closed:
		return models.Device{}, ErrRegistryClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	paired, err := s.pairedLocked(ctx)
	if err != nil {
		return models.Device{}, err
	}
	// A concurrent Pair for the same id may have won during the delay.
	for _, d := range paired {
		if d.ID == deviceID {
			return d, nil
		}
	}

	entry.ConnectionStatus = models.ConnectionConnected
	entry.BatteryLevel = syntheticBatteryLevel()
	entry.LastSync = time.Now().UTC()

	paired = append(paired, entry)
	if err := storage.SetJSON(ctx, s.store, storage.KeyPairedDevices, paired); err != nil {
		return models.Device{}, err
	}

	log.Printf("[devices] paired %s battery=%d%%", deviceID, entry.BatteryLevel)
	s.notifier.Publish(events.TopicPairedDevicesChanged)
	return entry, nil
}

// Unpair removes the device from the paired list. Assignments referencing it
// are left dangling on purpose; callers run the assignment repair pass.
// Unpairing an unknown id is a no-op.
func (s *Service) Unpair(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paired, err := s.pairedLocked(ctx)
	if err != nil {
		return err
	}

	kept := make([]models.Device, 0, len(paired))
	found := false
	for _, d := range paired {
		if d.ID == deviceID {
			found = true
			continue
		}
		kept = append(kept, d)
	}
	if !found {
		log.Printf("[devices] unpair %s: not paired, ignoring", deviceID)
		return nil
	}

	if err := storage.SetJSON(ctx, s.store, storage.KeyPairedDevices, kept); err != nil {
		return err
	}

	log.Printf("[devices] unpaired %s", deviceID)
	s.notifier.Publish(events.TopicPairedDevicesChanged)
	return nil
}

func (s *Service) pairedLocked(ctx context.Context) ([]models.Device, error) {
	var paired []models.Device
	err := storage.GetJSON(ctx, s.store, storage.KeyPairedDevices, &paired)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return paired, nil
}

// syntheticBatteryLevel returns a random charge between 20 and 100 percent.
func syntheticBatteryLevel() int {
	n, err := rand.Int(rand.Reader, big.NewInt(81))
	if err != nil {
		return 80
	}
	return int(n.Int64()) + 20
}
