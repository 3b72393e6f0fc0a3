package config

import (
	"errors"

	"github.com/jmcleod/panelgate/panel"
)

// ApplyPanels installs the configured path tables on reg. Types without an
// entry are reset to their built-in tables so removed overrides take
// effect on reload.
func ApplyPanels(reg *panel.Registry, panels map[string]PanelConfig) error {
	byType := make(map[panel.Type]PanelConfig, len(panels))
	for name, p := range panels {
		t, err := panel.ParseType(name)
		if err != nil {
			return err
		}
		byType[t] = p
	}
	var errs []error
	for _, t := range reg.Types() {
		p := byType[t]
		if err := reg.OverridePaths(t, p.Root, p.Paths); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
