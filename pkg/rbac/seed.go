package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gradekeep/gradekeep/pkg/observability"
)

// Seed is a declarative policy document: permission definitions and roles
// built from them. Applying a seed is idempotent and converging: existing
// permissions are left alone, existing roles have their permission sets
// replaced to match the document.
type Seed struct {
	Permissions []SeedPermission `yaml:"permissions"`
	Roles       []SeedRole       `yaml:"roles"`
}

// SeedPermission declares one permission.
type SeedPermission struct {
	Module      string `yaml:"module"`
	Action      string `yaml:"action"`
	Resource    string `yaml:"resource,omitempty"`
	Scope       Scope  `yaml:"scope"`
	Description string `yaml:"description,omitempty"`
	System      bool   `yaml:"system,omitempty"`
}

// SeedRole declares one role and the permissions it grants.
type SeedRole struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description,omitempty"`
	System      bool                 `yaml:"system,omitempty"`
	Permissions []SeedRolePermission `yaml:"permissions"`
}

// SeedRolePermission references a permission by its identifying triple.
type SeedRolePermission struct {
	Module     string                 `yaml:"module"`
	Action     string                 `yaml:"action"`
	Scope      Scope                  `yaml:"scope"`
	Conditions map[string]interface{} `yaml:"conditions,omitempty"`
}

// LoadSeedFile parses a seed document from a YAML file
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	if err := seed.Validate(); err != nil {
		return nil, err
	}

	return &seed, nil
}

// Validate checks the document for structural problems
func (s *Seed) Validate() error {
	for _, p := range s.Permissions {
		if p.Module == "" || p.Action == "" {
			return fmt.Errorf("seed permission missing module or action")
		}
		if !p.Scope.IsValid() {
			return fmt.Errorf("seed permission %s:%s has unknown scope %q", p.Module, p.Action, p.Scope)
		}
	}
	for _, r := range s.Roles {
		if r.Name == "" {
			return fmt.Errorf("seed role missing name")
		}
		for _, rp := range r.Permissions {
			if rp.Module == "" || rp.Action == "" || !rp.Scope.IsValid() {
				return fmt.Errorf("seed role %q references malformed permission %s:%s:%s",
					r.Name, rp.Module, rp.Action, rp.Scope)
			}
		}
	}
	return nil
}

// Apply converges the store toward the seed document. Missing permissions
// and roles are created; each seeded role's permission set is replaced to
// match the document. Principal caches touched by changed roles are the
// manager's concern; seeds are applied at startup before traffic.
func (s *Seed) Apply(ctx context.Context, store Store, logger *observability.Logger) error {
	for _, sp := range s.Permissions {
		_, err := store.FindPermissionByIdentity(ctx, sp.Module, sp.Action, sp.Resource)
		if err == nil {
			continue
		}
		if !IsNotFound(err) {
			return err
		}

		_, err = store.CreatePermission(ctx, &Permission{
			Module:      sp.Module,
			Action:      sp.Action,
			Resource:    sp.Resource,
			Scope:       sp.Scope,
			Description: sp.Description,
			IsSystem:    sp.System,
		})
		if err != nil && !IsConflict(err) {
			return err
		}
		logger.WithField("permission", fmt.Sprintf("%s:%s:%s", sp.Module, sp.Action, sp.Scope)).
			Info("Seeded permission")
	}

	for _, sr := range s.Roles {
		role, err := store.GetRoleByName(ctx, sr.Name)
		if IsNotFound(err) {
			role, err = store.CreateRole(ctx, &Role{
				Name:        sr.Name,
				Description: sr.Description,
				IsSystem:    sr.System,
			})
			if err != nil {
				return err
			}
			logger.WithField("role", sr.Name).Info("Seeded role")
		} else if err != nil {
			return err
		}

		links := make([]RolePermission, 0, len(sr.Permissions))
		for _, rp := range sr.Permissions {
			perm, err := store.FindPermission(ctx, rp.Module, rp.Action, rp.Scope)
			if err != nil {
				return fmt.Errorf("seed role %q references unknown permission %s:%s:%s",
					sr.Name, rp.Module, rp.Action, rp.Scope)
			}

			var conditions json.RawMessage
			if len(rp.Conditions) > 0 {
				conditions, err = json.Marshal(rp.Conditions)
				if err != nil {
					return fmt.Errorf("seed role %q has unencodable conditions: %w", sr.Name, err)
				}
			}

			links = append(links, RolePermission{PermissionID: perm.ID, Conditions: conditions})
		}

		if err := store.ReplaceRolePermissions(ctx, role.ID, links); err != nil {
			return err
		}
	}

	return nil
}
