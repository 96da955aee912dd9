// Package capabilities loads the registry of agent roles and the tools each
// role exposes. Planning validates every generated sub-task against this
// registry before a plan is accepted.
package capabilities

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Tool describes one callable tool exposed by an agent role.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Role describes one agent role and its tool surface.
type Role struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Tools       []Tool `json:"tools"`
}

// Registry holds the known agent roles keyed by role name.
type Registry struct {
	roles map[string]Role
}

// NewRegistry builds a registry from a role list. Duplicate role names are
// rejected.
func NewRegistry(roles []Role) (*Registry, error) {
	byName := make(map[string]Role, len(roles))
	for _, role := range roles {
		if role.Name == "" {
			return nil, fmt.Errorf("capabilities: role with empty name")
		}
		if _, exists := byName[role.Name]; exists {
			return nil, fmt.Errorf("capabilities: duplicate role %q", role.Name)
		}
		byName[role.Name] = role
	}
	return &Registry{roles: byName}, nil
}

// LoadRegistry reads a capabilities JSON file of the form
// {"roles": [{"name": ..., "tools": [...]}]}.
func LoadRegistry(path string) (*Registry, error) {
	//nolint:gosec // G304: path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("capabilities: read %s: %w", path, err)
	}

	var doc struct {
		Roles []Role `json:"roles"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("capabilities: parse %s: %w", path, err)
	}
	if len(doc.Roles) == 0 {
		return nil, fmt.Errorf("capabilities: %s defines no roles", path)
	}
	return NewRegistry(doc.Roles)
}

// HasRole reports whether the role name is known.
func (r *Registry) HasRole(name string) bool {
	_, ok := r.roles[name]
	return ok
}

// HasTool reports whether the role exists and exposes the named tool.
func (r *Registry) HasTool(roleName, toolName string) bool {
	role, ok := r.roles[roleName]
	if !ok {
		return false
	}
	for _, tool := range role.Tools {
		if tool.Name == toolName {
			return true
		}
	}
	return false
}

// RoleNames returns the known role names, sorted.
func (r *Registry) RoleNames() []string {
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolNames returns the tool names exposed by a role, sorted. Unknown roles
// return nil.
func (r *Registry) ToolNames(roleName string) []string {
	role, ok := r.roles[roleName]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(role.Tools))
	for _, tool := range role.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	return names
}

// Describe renders the registry as prompt text for the planning model.
func (r *Registry) Describe() string {
	var out string
	for _, name := range r.RoleNames() {
		role := r.roles[name]
		out += fmt.Sprintf("- Role %q", role.Name)
		if role.Description != "" {
			out += ": " + role.Description
		}
		out += "\n"
		for _, tool := range role.Tools {
			out += fmt.Sprintf("    - Tool %q", tool.Name)
			if tool.Description != "" {
				out += ": " + tool.Description
			}
			out += "\n"
		}
	}
	return out
}
