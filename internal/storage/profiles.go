package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/pubhub/internal/types"
)

// Profiles stores user profiles and their linked content-API credential
type Profiles struct {
	store Store
}

// NewProfiles creates a profile repository over store
func NewProfiles(store Store) *Profiles {
	return &Profiles{store: store}
}

// Get returns the profile for userID, or an error wrapping ErrNotFound
func (p *Profiles) Get(ctx context.Context, userID string) (*types.UserProfile, error) {
	var profile types.UserProfile
	found, err := getJSON(ctx, p.store, UserKey(userID), &profile)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %s: %w", userID, err)
	}
	if !found {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return &profile, nil
}

// Save writes the profile, replacing any previous record
func (p *Profiles) Save(ctx context.Context, profile *types.UserProfile) error {
	if profile.ID == "" {
		return fmt.Errorf("profile id is required")
	}
	if err := setJSON(ctx, p.store, UserKey(profile.ID), profile); err != nil {
		return fmt.Errorf("failed to save profile %s: %w", profile.ID, err)
	}
	return nil
}

// InitProfile returns the existing profile for userID, creating a free-tier
// profile first if there is none. Safe to call repeatedly under retry.
func (p *Profiles) InitProfile(ctx context.Context, userID, email, name string) (*types.UserProfile, error) {
	existing, err := p.Get(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	profile := &types.UserProfile{
		ID:        userID,
		Email:     email,
		Name:      name,
		Tier:      types.TierFree,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.Save(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// SaveCredential stores cred as the user's linked credential. A refreshed
// credential that lost its username keeps the stored one.
func (p *Profiles) SaveCredential(ctx context.Context, userID string, cred *types.UserCredential) error {
	if cred == nil {
		return fmt.Errorf("credential is required")
	}
	profile, err := p.Get(ctx, userID)
	if err != nil {
		return err
	}
	updated := *cred
	if updated.Username == "" && profile.Reddit != nil {
		updated.Username = profile.Reddit.Username
	}
	profile.Reddit = &updated
	return p.Save(ctx, profile)
}

// Disconnect removes the user's linked credential
func (p *Profiles) Disconnect(ctx context.Context, userID string) error {
	profile, err := p.Get(ctx, userID)
	if err != nil {
		return err
	}
	if profile.Reddit == nil {
		return nil
	}
	profile.Reddit = nil
	return p.Save(ctx, profile)
}

// ListUserIDs returns the id of every stored profile
func (p *Profiles) ListUserIDs(ctx context.Context) ([]string, error) {
	keys, err := p.store.List(ctx, userPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, userPrefix))
	}
	return ids, nil
}
