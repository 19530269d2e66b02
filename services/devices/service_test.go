package devices_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pulsehub/models"
	"pulsehub/services/devices"
	"pulsehub/services/events"
	"pulsehub/storage"
)

const testDelay = 5 * time.Millisecond

func newService() (*devices.Service, *events.Notifier) {
	store := storage.NewMemStore()
	notifier := events.NewNotifier()
	return devices.NewService(store, notifier, testDelay), notifier
}

func TestListAvailableExcludesPaired(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	catalog := devices.Catalog()
	if len(catalog) == 0 {
		t.Fatalf("expected a non-empty catalog")
	}

	available, err := svc.ListAvailable(ctx)
	if err != nil {
		t.Fatalf("list available returned error: %v", err)
	}
	if len(available) != len(catalog) {
		t.Fatalf("expected full catalog available, got %d of %d", len(available), len(catalog))
	}

	if _, err := svc.Pair(ctx, catalog[0].ID); err != nil {
		t.Fatalf("pair returned error: %v", err)
	}

	available, err = svc.ListAvailable(ctx)
	if err != nil {
		t.Fatalf("list available returned error: %v", err)
	}
	if len(available) != len(catalog)-1 {
		t.Fatalf("expected %d available after pairing, got %d", len(catalog)-1, len(available))
	}
	for _, d := range available {
		if d.ID == catalog[0].ID {
			t.Fatalf("paired device %s still listed as available", d.ID)
		}
	}
}

func TestPairStampsConnectionMetadata(t *testing.T) {
	svc, notifier := newService()
	ctx := context.Background()

	published := 0
	unsubscribe := notifier.Subscribe(events.TopicPairedDevicesChanged, func() { published++ })
	defer unsubscribe()

	device, err := svc.Pair(ctx, "ph-watch-01")
	if err != nil {
		t.Fatalf("pair returned error: %v", err)
	}

	if device.ConnectionStatus != models.ConnectionConnected {
		t.Errorf("expected connected status, got %q", device.ConnectionStatus)
	}
	if device.BatteryLevel < 20 || device.BatteryLevel > 100 {
		t.Errorf("battery level %d outside expected range", device.BatteryLevel)
	}
	if device.LastSync.IsZero() {
		t.Errorf("expected lastSync to be stamped")
	}
	if published != 1 {
		t.Errorf("expected one notification, got %d", published)
	}

	paired, err := svc.ListPaired(ctx)
	if err != nil {
		t.Fatalf("list paired returned error: %v", err)
	}
	if len(paired) != 1 || paired[0].ID != "ph-watch-01" {
		t.Fatalf("expected ph-watch-01 in paired list, got %+v", paired)
	}
}

func TestPairUnknownDevice(t *testing.T) {
	svc, _ := newService()

	if _, err := svc.Pair(context.Background(), "no-such-device"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPairAlreadyPairedReturnsExisting(t *testing.T) {
	svc, notifier := newService()
	ctx := context.Background()

	first, err := svc.Pair(ctx, "ph-ring-01")
	if err != nil {
		t.Fatalf("pair returned error: %v", err)
	}

	published := 0
	unsubscribe := notifier.Subscribe(events.TopicPairedDevicesChanged, func() { published++ })
	defer unsubscribe()

	second, err := svc.Pair(ctx, "ph-ring-01")
	if err != nil {
		t.Fatalf("second pair returned error: %v", err)
	}
	if !second.LastSync.Equal(first.LastSync) {
		t.Errorf("expected stored entry back, got a re-stamped one")
	}
	if published != 0 {
		t.Errorf("expected no notification for repeated pair, got %d", published)
	}

	paired, err := svc.ListPaired(ctx)
	if err != nil {
		t.Fatalf("list paired returned error: %v", err)
	}
	if len(paired) != 1 {
		t.Fatalf("expected a single paired entry, got %d", len(paired))
	}
}

func TestPairCanceledByContext(t *testing.T) {
	svc, _ := newService()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Pair(ctx, "ph-watch-01"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	paired, err := svc.ListPaired(context.Background())
	if err != nil {
		t.Fatalf("list paired returned error: %v", err)
	}
	if len(paired) != 0 {
		t.Fatalf("canceled pairing must not write state, got %d paired", len(paired))
	}
}

func TestPairCanceledByClose(t *testing.T) {
	store := storage.NewMemStore()
	notifier := events.NewNotifier()
	svc := devices.NewService(store, notifier, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Pair(context.Background(), "ph-watch-01")
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	svc.Close()
	svc.Close() // idempotent

	select {
	case err := <-errCh:
		if !errors.Is(err, devices.ErrRegistryClosed) {
			t.Fatalf("expected registry closed error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("pairing did not observe teardown")
	}
}

func TestUnpair(t *testing.T) {
	svc, notifier := newService()
	ctx := context.Background()

	if _, err := svc.Pair(ctx, "ph-scale-01"); err != nil {
		t.Fatalf("pair returned error: %v", err)
	}

	published := 0
	unsubscribe := notifier.Subscribe(events.TopicPairedDevicesChanged, func() { published++ })
	defer unsubscribe()

	if err := svc.Unpair(ctx, "ph-scale-01"); err != nil {
		t.Fatalf("unpair returned error: %v", err)
	}
	if published != 1 {
		t.Errorf("expected one notification, got %d", published)
	}

	paired, err := svc.ListPaired(ctx)
	if err != nil {
		t.Fatalf("list paired returned error: %v", err)
	}
	if len(paired) != 0 {
		t.Fatalf("expected empty paired list, got %d", len(paired))
	}

	// Unknown ids are tolerated without a notification.
	if err := svc.Unpair(ctx, "ph-scale-01"); err != nil {
		t.Fatalf("repeated unpair returned error: %v", err)
	}
	if published != 1 {
		t.Errorf("expected no extra notification, got %d", published)
	}
}
