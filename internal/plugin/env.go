package plugin

import (
	"go.uber.org/zap"

	"github.com/particlekit/particlekit/internal/comm"
	"github.com/particlekit/particlekit/internal/cosmology"
)

// Env is the run context handed to every plugin constructor. It replaces any
// process-wide communicator or cosmology lookup.
type Env struct {
	Group     comm.Group
	Cosmology *cosmology.Cosmology
	Logger    *zap.Logger
}

// NewEnv creates an environment, filling a nil cosmology or logger with defaults
func NewEnv(group comm.Group, cosmo *cosmology.Cosmology, logger *zap.Logger) *Env {
	if cosmo == nil {
		cosmo = cosmology.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Env{Group: group, Cosmology: cosmo, Logger: logger}
}
