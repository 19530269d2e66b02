package assignment_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsehub/models"
	"pulsehub/services/assignment"
	"pulsehub/services/events"
	"pulsehub/storage"
)

type stubRegistry struct {
	paired []models.Device
}

func (s *stubRegistry) ListPaired(ctx context.Context) ([]models.Device, error) {
	return s.paired, nil
}

func (s *stubRegistry) IsPaired(ctx context.Context, deviceID string) (bool, error) {
	for _, d := range s.paired {
		if d.ID == deviceID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubRegistry) add(ids ...string) {
	for _, id := range ids {
		s.paired = append(s.paired, models.Device{ID: id, ConnectionStatus: models.ConnectionConnected})
	}
}

func (s *stubRegistry) remove(id string) {
	kept := s.paired[:0]
	for _, d := range s.paired {
		if d.ID != id {
			kept = append(kept, d)
		}
	}
	s.paired = kept
}

type stubUsers struct {
	ids map[string]bool
}

func (s *stubUsers) Exists(ctx context.Context, userID string) (bool, error) {
	return s.ids[userID], nil
}

func setup(t *testing.T) (*assignment.Service, *stubRegistry, *storage.MemStore, *events.Notifier) {
	t.Helper()
	store := storage.NewMemStore()
	registry := &stubRegistry{}
	users := &stubUsers{ids: map[string]bool{"user-a": true, "user-b": true}}
	notifier := events.NewNotifier()
	return assignment.NewService(store, registry, users, notifier), registry, store, notifier
}

func TestAssignFirstDeviceBecomesDefault(t *testing.T) {
	svc, registry, _, _ := setup(t)
	ctx := context.Background()
	registry.add("d1", "d2")

	require.NoError(t, svc.Assign(ctx, "user-a", "d1", false))

	ids, err := svc.DevicesForUser(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, ids)

	def, err := svc.DefaultDevice(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, "d1", def)

	// Second device without makeDefault leaves the default alone.
	require.NoError(t, svc.Assign(ctx, "user-a", "d2", false))
	def, err = svc.DefaultDevice(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, "d1", def)
}

func TestAssignSameDeviceTwiceIsNoOp(t *testing.T) {
	svc, registry, _, notifier := setup(t)
	ctx := context.Background()
	registry.add("d1")

	require.NoError(t, svc.Assign(ctx, "user-a", "d1", false))

	published := 0
	unsubscribe := notifier.Subscribe(events.TopicPairedDevicesChanged, func() { published++ })
	defer unsubscribe()

	require.NoError(t, svc.Assign(ctx, "user-a", "d1", false))
	assert.Zero(t, published, "re-assigning to the same user must not publish")

	ids, err := svc.DevicesForUser(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, ids)
}

func TestExclusiveOwnership(t *testing.T) {
	svc, registry, _, _ := setup(t)
	ctx := context.Background()
	registry.add("d3")

	require.NoError(t, svc.Assign(ctx, "user-b", "d3", false))
	require.NoError(t, svc.Assign(ctx, "user-a", "d3", true))

	owner, err := svc.Owner(ctx, "d3")
	require.NoError(t, err)
	assert.Equal(t, "user-a", owner)

	idsB, err := svc.DevicesForUser(ctx, "user-b")
	require.NoError(t, err)
	assert.NotContains(t, idsB, "d3")

	def, err := svc.DefaultDevice(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, "d3", def)

	defB, err := svc.DefaultDevice(ctx, "user-b")
	require.NoError(t, err)
	assert.Empty(t, defB, "losing the only device must clear the old owner's default")
}

func TestUnassignPromotesNextDefault(t *testing.T) {
	svc, registry, _, _ := setup(t)
	ctx := context.Background()
	registry.add("d1", "d2")

	require.NoError(t, svc.Assign(ctx, "user-a", "d1", false))
	require.NoError(t, svc.Assign(ctx, "user-a", "d2", false))

	require.NoError(t, svc.Unassign(ctx, "user-a", "d1"))

	ids, err := svc.DevicesForUser(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"d2"}, ids)

	def, err := svc.DefaultDevice(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, "d2", def)
}

func TestUnassignLastDeviceClearsDefault(t *testing.T) {
	svc, registry, _, _ := setup(t)
	ctx := context.Background()
	registry.add("d1")

	require.NoError(t, svc.Assign(ctx, "user-a", "d1", true))
	require.NoError(t, svc.Unassign(ctx, "user-a", "d1"))

	ids, err := svc.DevicesForUser(ctx, "user-a")
	require.NoError(t, err)
	assert.Empty(t, ids)

	def, err := svc.DefaultDevice(ctx, "user-a")
	require.NoError(t, err)
	assert.Empty(t, def)
}

func TestUnassignStaleIDIsNoOp(t *testing.T) {
	svc, _, _, notifier := setup(t)
	ctx := context.Background()

	published := 0
	unsubscribe := notifier.Subscribe(events.TopicUserDataChanged, func() { published++ })
	defer unsubscribe()

	require.NoError(t, svc.Unassign(ctx, "user-a", "never-assigned"))
	assert.Zero(t, published)
}

func TestReassignPublishesSingleRound(t *testing.T) {
	svc, registry, _, notifier := setup(t)
	ctx := context.Background()
	registry.add("d1")

	require.NoError(t, svc.Assign(ctx, "user-a", "d1", true))

	userEvents := 0
	deviceEvents := 0
	unsubUser := notifier.Subscribe(events.TopicUserDataChanged, func() { userEvents++ })
	defer unsubUser()
	unsubDevices := notifier.Subscribe(events.TopicPairedDevicesChanged, func() { deviceEvents++ })
	defer unsubDevices()

	require.NoError(t, svc.Reassign(ctx, "d1", "user-a", "user-b"))

	// No intermediate publish between the remove and the add.
	assert.Equal(t, 1, userEvents)
	assert.Equal(t, 1, deviceEvents)

	owner, err := svc.Owner(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "user-b", owner)

	idsA, err := svc.DevicesForUser(ctx, "user-a")
	require.NoError(t, err)
	assert.Empty(t, idsA)
}

func TestAssignUnknownUserOrDevice(t *testing.T) {
	svc, registry, _, _ := setup(t)
	ctx := context.Background()
	registry.add("d1")

	err := svc.Assign(ctx, "ghost", "d1", false)
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = svc.Assign(ctx, "user-a", "not-paired", false)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDefaultDeviceRepairsStalePointer(t *testing.T) {
	svc, registry, store, _ := setup(t)
	ctx := context.Background()
	registry.add("d2")

	// Persisted state where the default outlived its paired device.
	seed(t, store, storage.KeyUserDeviceMap, map[string][]string{"user-a": {"d9", "d2"}})
	seed(t, store, storage.KeyUserDefaultDevices, map[string]string{"user-a": "d9"})

	def, err := svc.DefaultDevice(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, "d2", def)

	// The stored pointer was corrected, not just the returned value.
	var stored map[string]string
	require.NoError(t, storage.GetJSON(ctx, store, storage.KeyUserDefaultDevices, &stored))
	assert.Equal(t, "d2", stored["user-a"])

	ids, err := svc.DevicesForUser(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"d2"}, ids, "stale member dropped during repair")
}

func TestDefaultDeviceStalePointerEmptySet(t *testing.T) {
	svc, _, store, _ := setup(t)
	ctx := context.Background()

	seed(t, store, storage.KeyUserDeviceMap, map[string][]string{"user-a": {"d9"}})
	seed(t, store, storage.KeyUserDefaultDevices, map[string]string{"user-a": "d9"})

	def, err := svc.DefaultDevice(ctx, "user-a")
	require.NoError(t, err)
	assert.Empty(t, def)
}

func TestRepairDanglingAfterUnpair(t *testing.T) {
	svc, registry, _, notifier := setup(t)
	ctx := context.Background()
	registry.add("d1", "d2")

	require.NoError(t, svc.Assign(ctx, "user-a", "d1", true))
	require.NoError(t, svc.Assign(ctx, "user-a", "d2", false))
	require.NoError(t, svc.Assign(ctx, "user-b", "d2", false))

	registry.remove("d1")
	require.NoError(t, svc.RepairDangling(ctx))

	idsA, err := svc.DevicesForUser(ctx, "user-a")
	require.NoError(t, err)
	assert.NotContains(t, idsA, "d1")

	defA, err := svc.DefaultDevice(ctx, "user-a")
	require.NoError(t, err)
	assert.Empty(t, defA, "user-a lost d2 to user-b and d1 was unpaired")

	// Second pass is a no-op: no writes, no notifications.
	published := 0
	unsubscribe := notifier.Subscribe(events.TopicPairedDevicesChanged, func() { published++ })
	defer unsubscribe()
	require.NoError(t, svc.RepairDangling(ctx))
	assert.Zero(t, published)
}

func TestReleaseUserKeepsDevicesPaired(t *testing.T) {
	svc, registry, _, _ := setup(t)
	ctx := context.Background()
	registry.add("d4")

	require.NoError(t, svc.Assign(ctx, "user-b", "d4", true))
	require.NoError(t, svc.ReleaseUser(ctx, "user-b"))

	owner, err := svc.Owner(ctx, "d4")
	require.NoError(t, err)
	assert.Empty(t, owner)

	ok, err := registry.IsPaired(ctx, "d4")
	require.NoError(t, err)
	assert.True(t, ok, "release must not unpair the device")
}

func TestLegacyShapesNormalizedOnLoad(t *testing.T) {
	svc, registry, store, _ := setup(t)
	ctx := context.Background()
	registry.add("d1", "d2")

	// Legacy userDeviceMap value: a bare device id instead of a list.
	seedRaw(t, store, storage.KeyUserDeviceMap, `{"user-a": "d1"}`)
	// Retired single-device pointer on a stored profile record.
	seed(t, store, storage.KeyUsers, []models.User{{ID: "user-b", Name: "Ravi", DeviceID: "d2"}})

	idsA, err := svc.DevicesForUser(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, idsA)

	idsB, err := svc.DevicesForUser(ctx, "user-b")
	require.NoError(t, err)
	assert.Equal(t, []string{"d2"}, idsB)

	defB, err := svc.DefaultDevice(ctx, "user-b")
	require.NoError(t, err)
	assert.Equal(t, "d2", defB)

	// The canonical shape was written back.
	var raw map[string]json.RawMessage
	require.NoError(t, storage.GetJSON(ctx, store, storage.KeyUserDeviceMap, &raw))
	var asList []string
	require.NoError(t, json.Unmarshal(raw["user-a"], &asList))
	assert.Equal(t, []string{"d1"}, asList)
}

func TestExclusivityAcrossOperationSequences(t *testing.T) {
	svc, registry, _, _ := setup(t)
	ctx := context.Background()
	registry.add("d1", "d2", "d3")

	steps := []func() error{
		func() error { return svc.Assign(ctx, "user-a", "d1", true) },
		func() error { return svc.Assign(ctx, "user-a", "d2", false) },
		func() error { return svc.Assign(ctx, "user-b", "d2", true) },
		func() error { return svc.Reassign(ctx, "d1", "user-a", "user-b") },
		func() error { return svc.Assign(ctx, "user-a", "d3", false) },
		func() error { return svc.Unassign(ctx, "user-b", "d2") },
	}

	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)

		seen := make(map[string]string)
		for _, userID := range []string{"user-a", "user-b"} {
			ids, err := svc.DevicesForUser(ctx, userID)
			require.NoError(t, err)
			for _, id := range ids {
				if prev, dup := seen[id]; dup {
					t.Fatalf("step %d: device %s held by both %s and %s", i, id, prev, userID)
				}
				seen[id] = userID
			}
		}
	}
}

func seed(t *testing.T, store storage.Store, key string, value interface{}) {
	t.Helper()
	if err := storage.SetJSON(context.Background(), store, key, value); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

func seedRaw(t *testing.T, store storage.Store, key, raw string) {
	t.Helper()
	if err := store.Set(context.Background(), key, []byte(raw)); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}
