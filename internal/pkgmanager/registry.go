package pkgmanager

import (
	"github.com/guestpatch/patchcore/internal/env"
	"github.com/guestpatch/patchcore/internal/errs"
)

// ForFamily returns the concrete Adapter for a detected package manager
// family, the handoff point from the Environment & Distro Resolver to the
// Package Manager Adapter.
func ForFamily(family env.Family) (Adapter, error) {
	switch family {
	case env.FamilyAPT:
		return NewAptAdapter(), nil
	case env.FamilyYum:
		return NewYumAdapter(), nil
	case env.FamilyDNF:
		return NewDnfAdapter(), nil
	case env.FamilyZypper:
		return NewZypperAdapter(), nil
	default:
		return nil, errs.New(errs.KindUnsupportedDistro, "no package manager adapter for family "+string(family))
	}
}
