package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/domain"
)

// mockSettings implements SettingsSource for testing
type mockSettings struct {
	settings domain.Settings
}

func (m *mockSettings) Settings() domain.Settings {
	return m.settings
}

// TestPortal_PlaceholderURL verifies {serial} substitution
func TestPortal_PlaceholderURL(t *testing.T) {
	opener := &mockOpener{}
	portal := NewPortal(&mockSettings{settings: domain.Settings{
		PortalURL: "https://devices.local/unit/{serial}/admin",
	}}, opener, zap.NewNop())

	err := portal.Launch("AB 12")

	require.NoError(t, err)
	require.Len(t, opener.opened, 1)
	assert.Equal(t, "https://devices.local/unit/AB+12/admin _blank", opener.opened[0])
}

// TestPortal_QueryParamFallback verifies serial appending
func TestPortal_QueryParamFallback(t *testing.T) {
	opener := &mockOpener{}
	portal := NewPortal(&mockSettings{settings: domain.Settings{
		PortalURL: "https://devices.local/lookup",
	}}, opener, zap.NewNop())

	require.NoError(t, portal.Launch("X9"))
	assert.Equal(t, "https://devices.local/lookup?serial=X9 _blank", opener.opened[0])

	portal = NewPortal(&mockSettings{settings: domain.Settings{
		PortalURL: "https://devices.local/lookup?src=scan",
	}}, opener, zap.NewNop())
	require.NoError(t, portal.Launch("X9"))
	assert.Equal(t, "https://devices.local/lookup?src=scan&serial=X9 _blank", opener.opened[1])
}

// TestPortal_Unconfigured verifies the error path
func TestPortal_Unconfigured(t *testing.T) {
	opener := &mockOpener{}
	portal := NewPortal(&mockSettings{}, opener, zap.NewNop())

	err := portal.Launch("X9")

	assert.Error(t, err)
	assert.Empty(t, opener.opened)
}
