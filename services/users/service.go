// Package users owns the household profile directory: the signed-in "self"
// profile plus the family members, and the default-user selection.
package users

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulsehub/models"
	"pulsehub/services/events"
	"pulsehub/storage"
)

// DeviceReleaser returns a removed user's devices to the unassigned pool.
type DeviceReleaser interface {
	ReleaseUser(ctx context.Context, userID string) error
}

// Service manages the user directory. The self profile lives in its own
// storage slots (registeredUser/currentUser); family members live in the
// users list. All mutations publish user-data-changed.
type Service struct {
	store    storage.Store
	notifier *events.Notifier

	mu       sync.Mutex
	releaser DeviceReleaser
}

// NewService creates the directory over the given store and notifier.
func NewService(store storage.Store, notifier *events.Notifier) *Service {
	return &Service{store: store, notifier: notifier}
}

// SetDeviceReleaser wires the assignment cascade used when removing a user.
// Called once during startup; the directory works without it but removed
// users would keep their device claims until the next repair pass.
func (s *Service) SetDeviceReleaser(r DeviceReleaser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaser = r
}

// Self returns the signed-in profile, or false when nobody has registered.
func (s *Service) Self(ctx context.Context) (models.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfLocked(ctx)
}

// List returns the self profile first (when registered), followed by family
// members in insertion order.
func (s *Service) List(ctx context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(ctx)
}

// Get returns the user with the given id.
func (s *Service) Get(ctx context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.listLocked(ctx)
	if err != nil {
		return models.User{}, err
	}
	for _, u := range list {
		if u.ID == id {
			return u, nil
		}
	}
	return models.User{}, fmt.Errorf("user %q: %w", id, models.ErrNotFound)
}

// Exists reports whether a user with the given id is in the directory.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.Get(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RegisterSelf creates the signed-in profile. It fails with ErrInvariant when
// a self profile already exists; profile edits go through Update.
func (s *Service) RegisterSelf(ctx context.Context, profile models.UserProfile) (models.User, error) {
	if err := validateProfile(profile); err != nil {
		return models.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok, err := s.selfLocked(ctx); err != nil {
		return models.User{}, err
	} else if ok {
		return models.User{}, fmt.Errorf("self profile already registered: %w", models.ErrInvariant)
	}

	now := time.Now().UTC()
	user := models.User{
		ID:        uuid.NewString(),
		Name:      profile.Name,
		Age:       profile.Age,
		Gender:    profile.Gender,
		Phone:     profile.Phone,
		Email:     profile.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := storage.SetJSON(ctx, s.store, storage.KeyRegisteredUser, user); err != nil {
		return models.User{}, err
	}
	if err := storage.SetJSON(ctx, s.store, storage.KeyCurrentUser, user); err != nil {
		return models.User{}, err
	}

	s.notifier.Publish(events.TopicUserDataChanged)
	return user, nil
}

// Add appends a family member to the directory.
func (s *Service) Add(ctx context.Context, profile models.UserProfile) (models.User, error) {
	if err := validateProfile(profile); err != nil {
		return models.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	members, err := s.membersLocked(ctx)
	if err != nil {
		return models.User{}, err
	}

	now := time.Now().UTC()
	user := models.User{
		ID:        uuid.NewString(),
		Name:      profile.Name,
		Age:       profile.Age,
		Gender:    profile.Gender,
		Phone:     profile.Phone,
		Email:     profile.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}

	members = append(members, user)
	if err := storage.SetJSON(ctx, s.store, storage.KeyUsers, members); err != nil {
		return models.User{}, err
	}

	s.notifier.Publish(events.TopicUserDataChanged)
	return user, nil
}

// Update merges patch into the user with the given id. Edits to the self
// profile are written to both self slots to keep them consistent.
func (s *Service) Update(ctx context.Context, id string, patch models.UserPatch) (models.User, error) {
	if err := validatePatch(patch); err != nil {
		return models.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	self, hasSelf, err := s.selfLocked(ctx)
	if err != nil {
		return models.User{}, err
	}

	if hasSelf && self.ID == id {
		applyPatch(&self, patch)
		if err := storage.SetJSON(ctx, s.store, storage.KeyRegisteredUser, self); err != nil {
			return models.User{}, err
		}
		if err := storage.SetJSON(ctx, s.store, storage.KeyCurrentUser, self); err != nil {
			return models.User{}, err
		}
		s.refreshDefaultCacheLocked(ctx, self)
		s.notifier.Publish(events.TopicUserDataChanged)
		return self, nil
	}

	members, err := s.membersLocked(ctx)
	if err != nil {
		return models.User{}, err
	}
	for i := range members {
		if members[i].ID != id {
			continue
		}
		applyPatch(&members[i], patch)
		if err := storage.SetJSON(ctx, s.store, storage.KeyUsers, members); err != nil {
			return models.User{}, err
		}
		s.refreshDefaultCacheLocked(ctx, members[i])
		s.notifier.Publish(events.TopicUserDataChanged)
		return members[i], nil
	}

	return models.User{}, fmt.Errorf("user %q: %w", id, models.ErrNotFound)
}

// Remove deletes a family member and releases any devices they held back to
// the unassigned pool. The self profile can never be removed.
func (s *Service) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	self, hasSelf, err := s.selfLocked(ctx)
	if err != nil {
		return err
	}
	if hasSelf && self.ID == id {
		return fmt.Errorf("cannot remove the signed-in profile: %w", models.ErrInvariant)
	}

	members, err := s.membersLocked(ctx)
	if err != nil {
		return err
	}

	kept := make([]models.User, 0, len(members))
	found := false
	for _, u := range members {
		if u.ID == id {
			found = true
			continue
		}
		kept = append(kept, u)
	}
	if !found {
		return fmt.Errorf("user %q: %w", id, models.ErrNotFound)
	}

	if err := storage.SetJSON(ctx, s.store, storage.KeyUsers, kept); err != nil {
		return err
	}

	if s.releaser != nil {
		if err := s.releaser.ReleaseUser(ctx, id); err != nil {
			log.Printf("[users] failed to release devices for removed user %s: %v", id, err)
		}
	}

	// A stored default pointing at the removed user is now stale; clear it
	// rather than leave a dangling id behind.
	if storedID, err := s.storedDefaultIDLocked(ctx); err == nil && storedID == id {
		s.clearDefaultLocked(ctx)
	}

	s.notifier.Publish(events.TopicUserDataChanged)
	return nil
}

// DefaultUser resolves the default profile. With exactly one user in the
// directory that user always wins, regardless of what was persisted. A stored
// id that no longer resolves is cleared and reported as none.
func (s *Service) DefaultUser(ctx context.Context) (models.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.listLocked(ctx)
	if err != nil {
		return models.User{}, false, err
	}
	if len(list) == 0 {
		return models.User{}, false, nil
	}
	if len(list) == 1 {
		return list[0], true, nil
	}

	storedID, err := s.storedDefaultIDLocked(ctx)
	if err != nil || storedID == "" {
		return models.User{}, false, nil
	}
	for _, u := range list {
		if u.ID == storedID {
			return u, true, nil
		}
	}

	// Stored pointer outlived the user it referenced.
	log.Printf("[users] stored default user %s no longer exists, clearing", storedID)
	s.clearDefaultLocked(ctx)
	return models.User{}, false, nil
}

// SetDefaultUser persists the default-user selection.
func (s *Service) SetDefaultUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.listLocked(ctx)
	if err != nil {
		return err
	}
	for _, u := range list {
		if u.ID != id {
			continue
		}
		if err := storage.SetJSON(ctx, s.store, storage.KeyDefaultUserID, id); err != nil {
			return err
		}
		if err := storage.SetJSON(ctx, s.store, storage.KeyDefaultUser, u); err != nil {
			return err
		}
		s.notifier.Publish(events.TopicUserDataChanged)
		return nil
	}
	return fmt.Errorf("user %q: %w", id, models.ErrNotFound)
}

func (s *Service) selfLocked(ctx context.Context) (models.User, bool, error) {
	var self models.User
	err := storage.GetJSON(ctx, s.store, storage.KeyRegisteredUser, &self)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, err
	}
	return self, true, nil
}

func (s *Service) membersLocked(ctx context.Context) ([]models.User, error) {
	var members []models.User
	err := storage.GetJSON(ctx, s.store, storage.KeyUsers, &members)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (s *Service) listLocked(ctx context.Context) ([]models.User, error) {
	members, err := s.membersLocked(ctx)
	if err != nil {
		return nil, err
	}
	self, hasSelf, err := s.selfLocked(ctx)
	if err != nil {
		return nil, err
	}
	if !hasSelf {
		return members, nil
	}
	return append([]models.User{self}, members...), nil
}

func (s *Service) storedDefaultIDLocked(ctx context.Context) (string, error) {
	var id string
	err := storage.GetJSON(ctx, s.store, storage.KeyDefaultUserID, &id)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return "", nil
	}
	return id, err
}

func (s *Service) clearDefaultLocked(ctx context.Context) {
	if err := s.store.Remove(ctx, storage.KeyDefaultUserID); err != nil {
		log.Printf("[users] failed to clear default user id: %v", err)
	}
	if err := s.store.Remove(ctx, storage.KeyDefaultUser); err != nil {
		log.Printf("[users] failed to clear default user cache: %v", err)
	}
}

// refreshDefaultCacheLocked keeps the denormalized defaultUser blob in step
// with profile edits.
func (s *Service) refreshDefaultCacheLocked(ctx context.Context, updated models.User) {
	storedID, err := s.storedDefaultIDLocked(ctx)
	if err != nil || storedID != updated.ID {
		return
	}
	if err := storage.SetJSON(ctx, s.store, storage.KeyDefaultUser, updated); err != nil {
		log.Printf("[users] failed to refresh default user cache: %v", err)
	}
}

func validateProfile(profile models.UserProfile) error {
	if profile.Name == "" {
		return fmt.Errorf("name is required: %w", models.ErrValidation)
	}
	if profile.Age < models.MinUserAge || profile.Age > models.MaxUserAge {
		return fmt.Errorf("age must be between %d and %d: %w", models.MinUserAge, models.MaxUserAge, models.ErrValidation)
	}
	if !models.ValidGender(profile.Gender) {
		return fmt.Errorf("gender must be one of male, female, other: %w", models.ErrValidation)
	}
	return nil
}

func validatePatch(patch models.UserPatch) error {
	if patch.Name != nil && *patch.Name == "" {
		return fmt.Errorf("name cannot be empty: %w", models.ErrValidation)
	}
	if patch.Age != nil && (*patch.Age < models.MinUserAge || *patch.Age > models.MaxUserAge) {
		return fmt.Errorf("age must be between %d and %d: %w", models.MinUserAge, models.MaxUserAge, models.ErrValidation)
	}
	if patch.Gender != nil && !models.ValidGender(*patch.Gender) {
		return fmt.Errorf("gender must be one of male, female, other: %w", models.ErrValidation)
	}
	return nil
}

func applyPatch(u *models.User, patch models.UserPatch) {
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Age != nil {
		u.Age = *patch.Age
	}
	if patch.Gender != nil {
		u.Gender = *patch.Gender
	}
	if patch.Phone != nil {
		u.Phone = *patch.Phone
	}
	if patch.Email != nil {
		u.Email = *patch.Email
	}
	u.UpdatedAt = time.Now().UTC()
}
