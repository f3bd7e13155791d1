package sqlite

import (
	"context"
	"strings"

	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/wire"
)

// RegisterSQLPackage makes the modules of pkg available to INCLUDE PERFETTO
// MODULE. Module names must start with the package name and a dot.
func (p *Processor) RegisterSQLPackage(_ context.Context, pkg wire.RegisterSQLPackageArgs) error {
	if pkg.Name == "" {
		return errors.InvalidInput(errors.PhaseBackend, "SQL package has no name")
	}
	if _, ok := p.packages[pkg.Name]; ok && !pkg.AllowOverride {
		return errors.InvalidInput(errors.PhaseBackend, "SQL package "+pkg.Name+" is already registered")
	}
	prefix := pkg.Name + "."
	for _, m := range pkg.Modules {
		if !strings.HasPrefix(m.Name, prefix) {
			return errors.InvalidInput(errors.PhaseBackend, "module "+m.Name+" does not belong to package "+pkg.Name)
		}
	}

	if old, ok := p.packages[pkg.Name]; ok {
		for _, m := range old.Modules {
			delete(p.modules, m.Name)
			delete(p.included, m.Name)
		}
	}
	for _, m := range pkg.Modules {
		p.modules[m.Name] = m.SQL
	}
	p.packages[pkg.Name] = pkg
	return nil
}
