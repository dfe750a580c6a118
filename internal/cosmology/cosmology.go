// Package cosmology holds the background cosmological parameters shared by a run.
// A Cosmology is built once at start-up and handed to plugins through their
// environment rather than looked up globally.
package cosmology

import (
	"fmt"
	"math"
)

// Cosmology describes a flat-or-curved Lambda-CDM background
type Cosmology struct {
	H0          float64 `mapstructure:"h0" json:"h0" yaml:"h0"`
	OmegaM      float64 `mapstructure:"omega_m" json:"omega_m" yaml:"omega_m"`
	OmegaLambda float64 `mapstructure:"omega_lambda" json:"omega_lambda" yaml:"omega_lambda"`
}

// Default returns Planck-like parameters
func Default() *Cosmology {
	return &Cosmology{H0: 67.7, OmegaM: 0.31, OmegaLambda: 0.69}
}

// Validate checks the parameters are physical
func (c *Cosmology) Validate() error {
	if c.H0 <= 0 {
		return fmt.Errorf("cosmology: h0 must be positive, got %g", c.H0)
	}
	if c.OmegaM < 0 || c.OmegaLambda < 0 {
		return fmt.Errorf("cosmology: density parameters must be non-negative")
	}
	return nil
}

// OmegaK returns the curvature density parameter
func (c *Cosmology) OmegaK() float64 {
	return 1 - c.OmegaM - c.OmegaLambda
}

// Efunc returns H(z)/H0
func (c *Cosmology) Efunc(z float64) float64 {
	zp1 := 1 + z
	return math.Sqrt(c.OmegaM*zp1*zp1*zp1 + c.OmegaK()*zp1*zp1 + c.OmegaLambda)
}

// RSDFactor converts a peculiar velocity in km/s into a line-of-sight
// displacement in Mpc/h at redshift z: (1+z) / (100 E(z)).
func (c *Cosmology) RSDFactor(z float64) float64 {
	return (1 + z) / (100 * c.Efunc(z))
}
