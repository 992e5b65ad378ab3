package orchestrator

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/scanners/external"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/scanners/headers"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/scanners/ports"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/scanners/sqli"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/scanners/version"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/scanners/xss"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

// Profiles lists detector names per scan profile in execution order.
var Profiles = map[types.ScanProfile][]string{
	types.ProfileQuick: {headers.Name, ports.Name},
	types.ProfileFull:  {ports.Name, headers.Name, xss.Name, sqli.Name, version.Name, external.Name},
}

// DetectorFactory builds the detectors for a profile. A new set is built for
// every scan, bound to that scan's capabilities, so no detector state is
// shared between scans.
type DetectorFactory interface {
	ForProfile(profile types.ScanProfile, caps core.Capabilities) ([]core.Detector, error)
}

// DefaultDetectors wires the built-in detectors to their collaborators.
type DefaultDetectors struct {
	// PortScanner builds the port scanner of one scan. prober serves its
	// web port fallback.
	PortScanner  func(prober core.Prober) core.PortScanner
	AlertSources func() []core.AlertSource
	Logger       *logger.Logger
}

func (f *DefaultDetectors) ForProfile(profile types.ScanProfile, caps core.Capabilities) ([]core.Detector, error) {
	names, ok := Profiles[profile]
	if !ok {
		return nil, fmt.Errorf("unknown scan profile %q", profile)
	}

	log := f.Logger
	if log == nil {
		log = logger.Nop()
	}

	detectors := make([]core.Detector, 0, len(names))
	for _, name := range names {
		switch name {
		case headers.Name:
			detectors = append(detectors, headers.New())
		case ports.Name:
			if f.PortScanner == nil {
				return nil, fmt.Errorf("profile %s needs a port scanner", profile)
			}
			detectors = append(detectors, ports.New(f.PortScanner(caps.Prober)))
		case xss.Name:
			detectors = append(detectors, xss.New(log))
		case sqli.Name:
			detectors = append(detectors, sqli.New(log))
		case version.Name:
			detectors = append(detectors, version.New())
		case external.Name:
			var sources []core.AlertSource
			if f.AlertSources != nil {
				sources = f.AlertSources()
			}
			detectors = append(detectors, external.New(log, sources...))
		}
	}
	return detectors, nil
}

// StaticDetectors always returns the same detectors. Used by tests and
// callers that assemble detectors themselves.
type StaticDetectors []core.Detector

func (s StaticDetectors) ForProfile(types.ScanProfile, core.Capabilities) ([]core.Detector, error) {
	return s, nil
}
