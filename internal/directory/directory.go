package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/t77yq/crisiswatch/internal/model"
)

// ErrRecipientNotFound is returned when a recipient id is unknown
var ErrRecipientNotFound = errors.New("recipient not found")

// StaticDirectory serves recipient profiles loaded from configuration
type StaticDirectory struct {
	mu         sync.RWMutex
	recipients map[string]model.RecipientProfile
}

// NewStaticDirectory creates a directory from a list of profiles. Later duplicates replace earlier ones.
func NewStaticDirectory(recipients []model.RecipientProfile) (*StaticDirectory, error) {
	d := &StaticDirectory{recipients: make(map[string]model.RecipientProfile, len(recipients))}
	for _, r := range recipients {
		if r.ID == "" {
			return nil, fmt.Errorf("recipient %q has no id", r.Name)
		}
		d.recipients[r.ID] = r
	}
	return d, nil
}

// Resolve returns the recipients of an organization, optionally restricted to roles, ordered by id.
// Recipients without an organization belong to every organization.
func (d *StaticDirectory) Resolve(ctx context.Context, organizationID string, roles []string) ([]model.RecipientProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(roles))
	for _, r := range roles {
		wanted[strings.ToLower(r)] = true
	}

	d.mu.RLock()
	out := make([]model.RecipientProfile, 0, len(d.recipients))
	for _, r := range d.recipients {
		if organizationID != "" && r.OrganizationID != "" && r.OrganizationID != organizationID {
			continue
		}
		if len(wanted) > 0 && !wanted[strings.ToLower(r.Role)] {
			continue
		}
		out = append(out, r)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns one recipient by id
func (d *StaticDirectory) Get(_ context.Context, id string) (model.RecipientProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.recipients[id]
	if !ok {
		return model.RecipientProfile{}, fmt.Errorf("%w: %s", ErrRecipientNotFound, id)
	}
	return r, nil
}

// Upsert adds or replaces a recipient
func (d *StaticDirectory) Upsert(r model.RecipientProfile) {
	d.mu.Lock()
	d.recipients[r.ID] = r
	d.mu.Unlock()
}
