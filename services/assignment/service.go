// Package assignment owns the user-to-device mapping: which devices each user
// holds, which one is their default, and the repair logic that keeps both
// consistent with the paired-device list. A device belongs to at most one
// user at a time.
package assignment

import (
	"context"
	"fmt"
	"log"
	"sync"

	"pulsehub/models"
	"pulsehub/services/events"
	"pulsehub/storage"
)

// PairedLister is the view of the device registry the assignments must stay
// consistent with.
type PairedLister interface {
	ListPaired(ctx context.Context) ([]models.Device, error)
	IsPaired(ctx context.Context, deviceID string) (bool, error)
}

// UserChecker reports whether a user id is present in the directory.
type UserChecker interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// Service maintains the assignment state. Mutations publish both change
// topics since either the user views or the device views may be watching.
type Service struct {
	store    storage.Store
	registry PairedLister
	users    UserChecker
	notifier *events.Notifier

	mu sync.Mutex
	// legacyFolded is set after the one-time fold of retired per-user
	// deviceId fields into the canonical map.
	legacyFolded bool
}

// NewService creates the assignment service.
func NewService(store storage.Store, registry PairedLister, users UserChecker, notifier *events.Notifier) *Service {
	return &Service{store: store, registry: registry, users: users, notifier: notifier}
}

// DevicesForUser returns the device ids the user holds, in assignment order.
// Unknown users get an empty slice.
func (s *Service) DevicesForUser(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	set := st.devices[userID]
	out := make([]string, len(set))
	copy(out, set)
	return out, nil
}

// DefaultDevice resolves the user's default device id, or "" when they have
// none. A stored pointer at a device that is no longer paired is repaired in
// place: the next still-paired member of the user's set becomes the default,
// or the pointer is cleared when none remains.
func (s *Service) DefaultDevice(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked(ctx)
	if err != nil {
		return "", err
	}

	current := st.defaults[userID]
	if current == "" {
		return "", nil
	}

	paired, err := s.pairedIDsLocked(ctx)
	if err != nil {
		return "", err
	}
	if paired[current] {
		return current, nil
	}

	// Persisted default outlived its paired device. Heal the pointer and
	// drop the stale members while we are here.
	log.Printf("[assignment] default device %s for user %s is no longer paired, repairing", current, userID)
	repairUser(st, userID, paired)
	if err := s.saveLocked(ctx, st); err != nil {
		return "", err
	}
	return st.defaults[userID], nil
}

// Assign gives the device to the user. A device held by another user is
// removed from them first; re-assigning a device to its current holder is a
// no-op. The device becomes the user's default when makeDefault is set or
// when it is their first device.
func (s *Service) Assign(ctx context.Context, userID, deviceID string, makeDefault bool) error {
	if err := s.checkUser(ctx, userID); err != nil {
		return err
	}
	if err := s.checkDevice(ctx, deviceID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}

	if !assignLocked(st, userID, deviceID, makeDefault) {
		return nil
	}
	if err := s.saveLocked(ctx, st); err != nil {
		return err
	}
	s.publishBoth()
	return nil
}

// Unassign removes the device from the user's set, promoting the first
// remaining device to default when needed. Stale ids are tolerated.
func (s *Service) Unassign(ctx context.Context, userID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}

	if !unassignLocked(st, userID, deviceID) {
		return nil
	}
	if err := s.saveLocked(ctx, st); err != nil {
		return err
	}
	s.publishBoth()
	return nil
}

// Reassign moves the device between two users as one step: no observer sees
// it owned by both or by neither, and a single notification round fires at
// the end.
func (s *Service) Reassign(ctx context.Context, deviceID, fromUserID, toUserID string) error {
	if err := s.checkUser(ctx, toUserID); err != nil {
		return err
	}
	if err := s.checkDevice(ctx, deviceID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}

	unassignLocked(st, fromUserID, deviceID)
	assignLocked(st, toUserID, deviceID, false)
	if err := s.saveLocked(ctx, st); err != nil {
		return err
	}
	s.publishBoth()
	return nil
}

// Owner returns the id of the user holding the device, or "" when unclaimed.
func (s *Service) Owner(ctx context.Context, deviceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked(ctx)
	if err != nil {
		return "", err
	}
	return ownerOf(st, deviceID), nil
}

// RepairDangling sweeps every user's set for device ids that are no longer
// paired, removing them and re-resolving defaults. Idempotent: a second call
// on repaired state changes nothing and publishes nothing.
func (s *Service) RepairDangling(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}

	paired, err := s.pairedIDsLocked(ctx)
	if err != nil {
		return err
	}

	changed := false
	for userID := range st.devices {
		if repairUser(st, userID, paired) {
			changed = true
		}
	}
	// Defaults without a backing set violate the membership invariant.
	for userID, deviceID := range st.defaults {
		if len(st.devices[userID]) == 0 {
			log.Printf("[assignment] clearing default %s for user %s with empty device set", deviceID, userID)
			delete(st.defaults, userID)
			changed = true
		}
	}

	if !changed {
		return nil
	}
	if err := s.saveLocked(ctx, st); err != nil {
		return err
	}
	s.publishBoth()
	return nil
}

// ReleaseUser drops every claim the user holds, returning their devices to
// the unassigned pool. Used as the cascade when a profile is removed.
func (s *Service) ReleaseUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}

	_, hadDevices := st.devices[userID]
	_, hadDefault := st.defaults[userID]
	if !hadDevices && !hadDefault {
		return nil
	}

	delete(st.devices, userID)
	delete(st.defaults, userID)
	if err := s.saveLocked(ctx, st); err != nil {
		return err
	}
	s.notifier.Publish(events.TopicPairedDevicesChanged)
	return nil
}

func (s *Service) checkUser(ctx context.Context, userID string) error {
	ok, err := s.users.Exists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %q: %w", userID, models.ErrNotFound)
	}
	return nil
}

func (s *Service) checkDevice(ctx context.Context, deviceID string) error {
	ok, err := s.registry.IsPaired(ctx, deviceID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("device %q is not paired: %w", deviceID, models.ErrNotFound)
	}
	return nil
}

func (s *Service) pairedIDsLocked(ctx context.Context) (map[string]bool, error) {
	paired, err := s.registry.ListPaired(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(paired))
	for _, d := range paired {
		ids[d.ID] = true
	}
	return ids, nil
}

func (s *Service) publishBoth() {
	s.notifier.Publish(events.TopicUserDataChanged)
	s.notifier.Publish(events.TopicPairedDevicesChanged)
}
