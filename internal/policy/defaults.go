package policy

import "github.com/armoryops/armorylink/internal/domain"

// DefaultFields returns the built-in field descriptors seeded on first
// run. Mutations happen only through the configuration surface and are
// persisted on every change.
func DefaultFields() []domain.FieldDescriptor {
	return []domain.FieldDescriptor{
		{
			Key:      "type",
			Label:    "Type",
			Selector: "[name=type]",
			Roles:    []domain.FieldRole{domain.RoleRead, domain.RoleWrite, domain.RoleTicker},
			Enabled:  true,
		},
		{
			Key:         "user",
			Label:       "Assigned user",
			Selector:    "[name=assigned_to]",
			Roles:       []domain.FieldRole{domain.RoleRead, domain.RoleWrite, domain.RoleTicker},
			CommitEvent: "blur",
			Reference:   true,
			Enabled:     true,
		},
		{
			Key:      "vehicle",
			Label:    "Vehicle",
			Selector: "[name=vehicle]",
			Roles:    []domain.FieldRole{domain.RoleRead, domain.RoleWrite, domain.RoleTicker},
			Enabled:  true,
		},
		{
			Key:      "assets",
			Label:    "Assets",
			Selector: "[name=assets] .pill-text",
			Roles:    []domain.FieldRole{domain.RoleRead},
			Multi:    true,
			Enabled:  true,
		},
		{
			Key:      "accessories",
			Label:    "Accessories",
			Selector: "[name=accessories] .pill-text",
			Roles:    []domain.FieldRole{domain.RoleRead},
			Multi:    true,
			Enabled:  true,
		},
		{
			Key:         "serial",
			Label:       "Serial",
			Selector:    "[name=serial_number]",
			Roles:       []domain.FieldRole{domain.RoleWrite},
			CommitEvent: "change",
			Enabled:     true,
		},
		{
			Key:      "control_radio",
			Label:    "Control radio",
			Selector: "[name=u_control_one_radio]",
			Roles:    []domain.FieldRole{domain.RoleRead},
			Enabled:  true,
		},
		{
			Key:      "updated_on",
			Label:    "Updated on",
			Selector: "[name=sys_updated_on]",
			Roles:    []domain.FieldRole{domain.RoleRead},
			Enabled:  true,
		},
	}
}

// DefaultRules returns the built-in scan rules.
func DefaultRules() []domain.Rule {
	return []domain.Rule{
		{
			Name:           "asset-serial",
			Pattern:        `^[*/]?([A-Z]{1,3}\d{4,10})$`,
			PatternType:    domain.PatternRegex,
			UseDirective:   true,
			DirectiveChars: []string{"*", "/"},
			GroupIndexes:   map[string]int{"serial": 1},
			Actions: []domain.Action{
				{Type: domain.ActionSetType, Value: "${directive}"},
				{Type: domain.ActionSetField, Field: "serial", Value: "${serial}"},
				{Type: domain.ActionToast, Level: "info", Title: "Asset", Message: "Serial ${serial}"},
			},
			SpeechLabel: "asset",
			Enabled:     true,
		},
		{
			Name:        "badge",
			Pattern:     `^EMP(\d{6})$`,
			PatternType: domain.PatternRegex,
			Actions: []domain.Action{
				{Type: domain.ActionSetField, Field: "user", Value: "${group1}"},
			},
			SpeechLabel: "badge",
			Enabled:     true,
		},
		{
			Name:        "vehicle-tag",
			Pattern:     "VEH-",
			PatternType: domain.PatternStartsWith,
			Actions: []domain.Action{
				{Type: domain.ActionSetField, Field: "vehicle", Value: "${trimmed}"},
			},
			Enabled: true,
		},
	}
}

// DefaultPrefixes returns the built-in prefixes.
func DefaultPrefixes() []domain.Prefix {
	return []domain.Prefix{
		{Label: "Reissue", Value: "RE-", HotkeyDigit: 1, StickyCount: 1},
		{Label: "Damaged", Value: "DMG-", HotkeyDigit: 2, StickyCount: 1},
	}
}
