package isorun

import (
	"github.com/limkokhole/isorun/manifest"
	"github.com/limkokhole/isorun/remote"
	"github.com/limkokhole/isorun/tree"
)

// Errors re-exported from the component packages.
var (
	// ErrInvalidManifest is returned when a manifest is structurally
	// invalid. Nothing is fetched or written once it is raised.
	ErrInvalidManifest = manifest.ErrInvalid

	// ErrMapping is returned when materialization finds a destination
	// collision or a missing cache source.
	ErrMapping = tree.ErrMapping

	// ErrVerify is returned when fetched content does not hash to its
	// content id.
	ErrVerify = remote.ErrVerify
)
