package plugins

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/config"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/plugins/nikto"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/plugins/zaproxy"
)

// RegisterDefaultSources registers every alert source enabled in the tools
// configuration. ZAP is enabled by an API endpoint, nikto by its flag.
func RegisterDefaultSources(m *Manager, cfg config.ToolsConfig, log *logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}

	if cfg.ZAP.APIEndpoint != "" {
		if err := m.Register(zaproxy.NewClient(cfg.ZAP, log)); err != nil {
			return fmt.Errorf("failed to register ZAP client: %w", err)
		}
	}

	if cfg.Nikto.Enabled {
		if err := m.Register(nikto.NewScanner(cfg.Nikto, log)); err != nil {
			return fmt.Errorf("failed to register nikto scanner: %w", err)
		}
	}

	log.Debugw("External alert sources registered", "sources", m.List())
	return nil
}
