package assignment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"pulsehub/models"
	"pulsehub/storage"
)

// state is the canonical in-memory representation: always a list per user,
// even for single-device cases. Shape questions are settled once at the
// storage boundary, never at call sites.
type state struct {
	devices  map[string][]string
	defaults map[string]string
}

// loadLocked reads and normalizes the persisted assignment state. Two legacy
// shapes are folded into the canonical one: userDeviceMap values that are a
// bare device id string, and the retired per-user deviceId field on profile
// records. The fold runs once per process and writes the canonical shape
// back, so later loads see only lists.
func (s *Service) loadLocked(ctx context.Context) (*state, error) {
	st := &state{
		devices:  make(map[string][]string),
		defaults: make(map[string]string),
	}

	var rawMap map[string]json.RawMessage
	err := storage.GetJSON(ctx, s.store, storage.KeyUserDeviceMap, &rawMap)
	if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return nil, err
	}

	migrated := false
	for userID, raw := range rawMap {
		ids, wasLegacy, err := decodeDeviceSet(raw)
		if err != nil {
			return nil, fmt.Errorf("user %q device set: %w", userID, err)
		}
		if wasLegacy {
			migrated = true
		}
		if len(ids) > 0 {
			st.devices[userID] = ids
		}
	}

	err = storage.GetJSON(ctx, s.store, storage.KeyUserDefaultDevices, &st.defaults)
	if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return nil, err
	}
	if st.defaults == nil {
		st.defaults = make(map[string]string)
	}

	if !s.legacyFolded {
		if folded, err := s.foldLegacyDeviceFields(ctx, st); err != nil {
			return nil, err
		} else if folded {
			migrated = true
		}
		s.legacyFolded = true
	}

	if migrated {
		log.Printf("[assignment] normalized legacy assignment shapes")
		if err := s.saveLocked(ctx, st); err != nil {
			return nil, err
		}
	}

	return st, nil
}

// saveLocked persists the canonical state. The device map lands before the
// default pointers so an interruption between the two writes leaves only a
// stale default, which the read path repairs.
func (s *Service) saveLocked(ctx context.Context, st *state) error {
	if err := storage.SetJSON(ctx, s.store, storage.KeyUserDeviceMap, st.devices); err != nil {
		return err
	}
	return storage.SetJSON(ctx, s.store, storage.KeyUserDefaultDevices, st.defaults)
}

// decodeDeviceSet accepts both the canonical list shape and the legacy bare
// string shape, reporting whether a legacy value was seen.
func decodeDeviceSet(raw json.RawMessage) ([]string, bool, error) {
	var ids []string
	if err := json.Unmarshal(raw, &ids); err == nil {
		return ids, false, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, false, fmt.Errorf("neither device list nor device id: %w", err)
	}
	if single == "" {
		return nil, true, nil
	}
	return []string{single}, true, nil
}

// foldLegacyDeviceFields merges retired deviceId fields from stored profile
// records into st. A legacy claim loses to any claim already in the map.
func (s *Service) foldLegacyDeviceFields(ctx context.Context, st *state) (bool, error) {
	users, err := s.storedUsersLocked(ctx)
	if err != nil {
		return false, err
	}

	folded := false
	for _, u := range users {
		if u.DeviceID == "" {
			continue
		}
		if owner := ownerOf(st, u.DeviceID); owner != "" {
			continue
		}
		st.devices[u.ID] = append(st.devices[u.ID], u.DeviceID)
		if st.defaults[u.ID] == "" {
			st.defaults[u.ID] = u.DeviceID
		}
		folded = true
	}
	return folded, nil
}

func (s *Service) storedUsersLocked(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := storage.GetJSON(ctx, s.store, storage.KeyUsers, &users)
	if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return nil, err
	}

	var self models.User
	err = storage.GetJSON(ctx, s.store, storage.KeyRegisteredUser, &self)
	if err == nil {
		users = append(users, self)
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return nil, err
	}
	return users, nil
}

// assignLocked applies the exclusive-ownership rules in memory and reports
// whether anything changed.
func assignLocked(st *state, userID, deviceID string, makeDefault bool) bool {
	set := st.devices[userID]
	for _, id := range set {
		if id == deviceID {
			if makeDefault && st.defaults[userID] != deviceID {
				st.defaults[userID] = deviceID
				return true
			}
			return false
		}
	}

	if owner := ownerOf(st, deviceID); owner != "" {
		unassignLocked(st, owner, deviceID)
	}

	st.devices[userID] = append(st.devices[userID], deviceID)
	if makeDefault || len(st.devices[userID]) == 1 {
		st.defaults[userID] = deviceID
	}
	return true
}

// unassignLocked removes the claim and re-resolves the user's default,
// reporting whether anything changed.
func unassignLocked(st *state, userID, deviceID string) bool {
	set := st.devices[userID]
	kept := make([]string, 0, len(set))
	found := false
	for _, id := range set {
		if id == deviceID {
			found = true
			continue
		}
		kept = append(kept, id)
	}
	if !found {
		return false
	}

	if len(kept) == 0 {
		delete(st.devices, userID)
	} else {
		st.devices[userID] = kept
	}

	if st.defaults[userID] == deviceID {
		if len(kept) > 0 {
			st.defaults[userID] = kept[0]
		} else {
			delete(st.defaults, userID)
		}
	}
	return true
}

// repairUser drops ids absent from paired out of the user's set and
// re-resolves their default, reporting whether anything changed.
func repairUser(st *state, userID string, paired map[string]bool) bool {
	set := st.devices[userID]
	kept := make([]string, 0, len(set))
	for _, id := range set {
		if paired[id] {
			kept = append(kept, id)
		}
	}
	changed := len(kept) != len(set)
	if changed {
		if len(kept) == 0 {
			delete(st.devices, userID)
		} else {
			st.devices[userID] = kept
		}
	}

	current := st.defaults[userID]
	if current != "" && !contains(kept, current) {
		if len(kept) > 0 {
			st.defaults[userID] = kept[0]
		} else {
			delete(st.defaults, userID)
		}
		changed = true
	}
	return changed
}

func ownerOf(st *state, deviceID string) string {
	for userID, set := range st.devices {
		for _, id := range set {
			if id == deviceID {
				return userID
			}
		}
	}
	return ""
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
