package storage

import (
	"context"
	"fmt"

	"github.com/hazz-dev/canary/internal/model"
)

// Fixtures is the configuration-owned data written to a store at startup.
type Fixtures struct {
	Users         []model.User
	Checks        []model.Check
	Notifications []model.NotificationPreference
	StatusPages   []model.StatusPage
}

// Seed upserts users, checks, notification preferences and status pages in dependency order.
func Seed(ctx context.Context, s Store, f Fixtures) error {
	for _, u := range f.Users {
		if err := s.UpsertUser(ctx, u); err != nil {
			return fmt.Errorf("seeding user %q: %w", u.ID, err)
		}
	}
	for _, c := range f.Checks {
		if err := s.UpsertCheck(ctx, c); err != nil {
			return fmt.Errorf("seeding check %q: %w", c.ID, err)
		}
	}
	for _, p := range f.Notifications {
		if err := s.UpsertPreference(ctx, p); err != nil {
			return fmt.Errorf("seeding preference %s/%s: %w", p.OwnerID, p.Address, err)
		}
	}
	for _, p := range f.StatusPages {
		if err := s.UpsertStatusPage(ctx, p); err != nil {
			return fmt.Errorf("seeding status page %q: %w", p.Slug, err)
		}
	}
	return nil
}
