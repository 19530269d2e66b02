// Package storage defines the durable key/value capability every service
// persists through. Values are JSON blobs under a small set of stable keys.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Keys under which application state is persisted. The names are a stable
// contract shared with previously persisted data.
const (
	KeyUsers              = "users"
	KeyCurrentUser        = "currentUser"
	KeyRegisteredUser     = "registeredUser"
	KeyDefaultUserID      = "defaultUserId"
	KeyDefaultUser        = "defaultUser"
	KeyPairedDevices      = "pairedDevices"
	KeyUserDeviceMap      = "userDeviceMap"
	KeyUserDefaultDevices = "userDefaultDevices"
)

// ErrKeyNotFound is returned by Get when the key has no stored value.
var ErrKeyNotFound = errors.New("key not found")

// Store is the durable key/value capability backing all services.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// GetJSON loads key and unmarshals its value into out.
// A missing key surfaces as ErrKeyNotFound.
func GetJSON(ctx context.Context, s Store, key string, out interface{}) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

// SetJSON marshals value and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}
