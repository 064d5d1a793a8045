// Package routine drives the pipeline: each stage routine selects packages
// at its start status, applies the stage transform, and advances survivors
// to the end status. Any failure aborts the batch so the operator sees the
// broken package before later ones are touched; completed packages keep
// their new status and are not selected again.
package routine

import (
	"context"
	"fmt"
	"log/slog"

	"tributary/internal/logging"
	"tributary/internal/packages"
	"tributary/internal/services"
)

// Transform applies one stage's work to a package. It reports whether an
// external object or notification was produced, which feeds the summary
// count. Transforms mutate the package in memory; the routine persists it.
type Transform func(ctx context.Context, pkg *packages.Package) (bool, error)

// Definition describes one pipeline stage.
type Definition struct {
	Name     string
	Label    string
	Start    packages.ProcessStatus
	End      packages.ProcessStatus
	Eligible func(pkg *packages.Package) bool
	Apply    Transform
}

// Summary reports the outcome of one stage run.
type Summary struct {
	Trigger string   `json:"trigger"`
	Detail  string   `json:"detail"`
	Count   int      `json:"count"`
	Objects []string `json:"objects,omitempty"`
}

// Store is the subset of the package store a routine needs.
type Store interface {
	PackagesByStatus(ctx context.Context, status packages.ProcessStatus) ([]*packages.Package, error)
	Update(ctx context.Context, pkg *packages.Package) error
}

// Routine executes one stage definition against the store.
type Routine struct {
	def    Definition
	store  Store
	logger *slog.Logger
}

// New constructs a routine for a stage definition.
func New(def Definition, store Store, logger *slog.Logger) *Routine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Routine{def: def, store: store, logger: logger}
}

// Run processes every package currently at the stage's start status. The
// selection is a snapshot: packages advanced during the run are not
// re-selected, and packages that become eligible mid-run wait for the next
// trigger. An empty selection is a successful no-op.
func (r *Routine) Run(ctx context.Context) (Summary, error) {
	ctx = services.WithStage(ctx, r.def.Name)
	selected, err := r.store.PackagesByStatus(ctx, r.def.Start)
	if err != nil {
		return Summary{}, fmt.Errorf("%s: select packages: %w", r.def.Name, err)
	}

	summary := Summary{Trigger: r.def.Name}
	for _, pkg := range selected {
		if r.def.Eligible != nil && !r.def.Eligible(pkg) {
			continue
		}

		pkgCtx := services.WithPackageID(services.WithBagIdentifier(ctx, pkg.BagIdentifier), pkg.ID)
		produced, err := r.def.Apply(pkgCtx, pkg)
		if err != nil {
			return Summary{}, fmt.Errorf("%s: package %s: %w", r.def.Name, pkg.BagIdentifier, err)
		}

		pkg.ProcessStatus = r.def.End
		if err := r.store.Update(pkgCtx, pkg); err != nil {
			return Summary{}, fmt.Errorf("%s: package %s: persist: %w", r.def.Name, pkg.BagIdentifier, err)
		}

		if produced {
			summary.Count++
		}
		summary.Objects = append(summary.Objects, pkg.BagIdentifier)
		r.logger.Info("package advanced",
			logging.String(logging.FieldComponent, "routine"),
			logging.String(logging.FieldStage, r.def.Name),
			logging.String(logging.FieldBagID, pkg.BagIdentifier),
			logging.Int64(logging.FieldPackageID, pkg.ID),
			logging.String("status", string(pkg.ProcessStatus)),
		)
	}

	summary.Detail = fmt.Sprintf("%d %s", summary.Count, r.def.Label)
	return summary, nil
}
