package permission

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrDuplicateCodename indicates two registrations sharing a codename.
var ErrDuplicateCodename = errors.New("permission: duplicate codename")

// Catalog is an immutable registry of permissions. Build one with NewCatalog
// and share it freely; lookups never mutate state.
type Catalog struct {
	byCodename map[string]Permission
	byID       map[int64]Permission
	ordered    []Permission
}

// NewCatalog builds a catalog from the supplied permissions. Codenames must be
// unique and non-empty.
func NewCatalog(perms []Permission) (*Catalog, error) {
	c := &Catalog{
		byCodename: make(map[string]Permission, len(perms)),
		byID:       make(map[int64]Permission, len(perms)),
		ordered:    make([]Permission, 0, len(perms)),
	}
	for _, p := range perms {
		code := strings.TrimSpace(p.Codename)
		if code == "" {
			return nil, errors.New("permission: codename required")
		}
		if _, ok := c.byCodename[code]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCodename, code)
		}
		p.Codename = code
		c.byCodename[code] = p
		c.byID[p.ID] = p
		c.ordered = append(c.ordered, p)
	}
	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].Codename < c.ordered[j].Codename })
	return c, nil
}

// ByCodename resolves a permission by its stable codename.
func (c *Catalog) ByCodename(codename string) (Permission, bool) {
	p, ok := c.byCodename[strings.TrimSpace(codename)]
	return p, ok
}

// ByID resolves a permission by id.
func (c *Catalog) ByID(id int64) (Permission, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// List returns all permissions ordered by codename.
func (c *Catalog) List() []Permission {
	out := make([]Permission, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// ListByCategory returns the permissions belonging to the category.
func (c *Catalog) ListByCategory(cat Category) []Permission {
	var out []Permission
	for _, p := range c.ordered {
		if p.Category == cat {
			out = append(out, p)
		}
	}
	return out
}

// Codenames maps a set of permission ids back to codenames, skipping unknown ids.
func (c *Catalog) Codenames(ids map[int64]struct{}) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		if p, ok := c.byID[id]; ok {
			out = append(out, p.Codename)
		}
	}
	sort.Strings(out)
	return out
}

// defaultActions are the per-module capabilities carried over from the
// cooperative's permission matrix.
var defaultActions = []string{"view", "create", "edit", "delete", "approve"}

// Defaults returns the built-in permission grid (category x action). IDs are
// zero; the repository assigns them on seed.
func Defaults() []Permission {
	var perms []Permission
	for _, cat := range Categories() {
		for _, action := range defaultActions {
			perms = append(perms, Permission{
				Codename:    fmt.Sprintf("%s.%s", cat, action),
				Category:    cat,
				Description: fmt.Sprintf("%s permission for the %s module", action, cat),
			})
		}
	}
	return perms
}
