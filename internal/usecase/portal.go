package usecase

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/domain"
)

// SettingsSource supplies the current settings bucket.
type SettingsSource interface {
	Settings() domain.Settings
}

// Portal implements domain.PortalLauncher: it builds the configured
// device-portal URL for a serial and opens it in a new tab. No response
// is read back.
type Portal struct {
	settings SettingsSource
	opener   URLOpener
	logger   *zap.Logger
}

// NewPortal creates the portal launcher.
func NewPortal(settings SettingsSource, opener URLOpener, logger *zap.Logger) *Portal {
	return &Portal{settings: settings, opener: opener, logger: logger}
}

// Launch opens the portal for a device serial. The configured URL may
// contain a {serial} placeholder; without one the serial is appended
// as a query parameter.
func (p *Portal) Launch(serial string) error {
	base := p.settings.Settings().PortalURL
	if base == "" {
		return fmt.Errorf("no device portal configured")
	}

	target := base
	if strings.Contains(base, "{serial}") {
		target = strings.ReplaceAll(base, "{serial}", url.QueryEscape(serial))
	} else {
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
		}
		target = base + sep + "serial=" + url.QueryEscape(serial)
	}

	p.logger.Info("launching device portal", zap.String("serial", serial))
	return p.opener.OpenURL(target, "_blank")
}

// Ensure Portal implements domain.PortalLauncher.
var _ domain.PortalLauncher = (*Portal)(nil)
