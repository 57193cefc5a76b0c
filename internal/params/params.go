// Package params validates the three numeric inputs shared by detection and
// matching: brightness threshold, grid resolution and match tolerance.
package params

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParameter is the only error that aborts a detection or match
// call before any computation starts.
var ErrInvalidParameter = errors.New("invalid parameter")

const (
	MinThreshold = 0
	MaxThreshold = 255

	DefaultThreshold = 128
	DefaultGridCells = 10
	DefaultTolerance = 0.1
)

// Params bundles the user-tunable inputs.
type Params struct {
	Threshold int     `json:"threshold"`
	GridCells int     `json:"grid_cells"`
	Tolerance float64 `json:"tolerance"`
}

// Default returns the starting parameter values.
func Default() Params {
	return Params{
		Threshold: DefaultThreshold,
		GridCells: DefaultGridCells,
		Tolerance: DefaultTolerance,
	}
}

// Validate checks every field and reports the first failure.
func (p Params) Validate() error {
	if err := ValidateThreshold(p.Threshold); err != nil {
		return err
	}
	if err := ValidateGridCells(p.GridCells); err != nil {
		return err
	}
	return ValidateTolerance(p.Tolerance)
}

// ValidateThreshold requires a luma threshold in [0, 255].
func ValidateThreshold(threshold int) error {
	if threshold < MinThreshold || threshold > MaxThreshold {
		return fmt.Errorf("%w: threshold %d outside [%d, %d]", ErrInvalidParameter, threshold, MinThreshold, MaxThreshold)
	}
	return nil
}

// ValidateGridCells requires a positive number of cells per side.
func ValidateGridCells(cells int) error {
	if cells < 1 {
		return fmt.Errorf("%w: grid cells per side must be positive, got %d", ErrInvalidParameter, cells)
	}
	return nil
}

// ValidateTolerance requires a finite, non-negative tolerance.
func ValidateTolerance(tol float64) error {
	if math.IsNaN(tol) || math.IsInf(tol, 0) || tol < 0 {
		return fmt.Errorf("%w: tolerance must be a non-negative number, got %v", ErrInvalidParameter, tol)
	}
	return nil
}

// ValidateDimensions requires a non-empty frame.
func ValidateDimensions(width, height float64) error {
	if !(width > 0) || !(height > 0) || math.IsInf(width, 0) || math.IsInf(height, 0) {
		return fmt.Errorf("%w: frame size %vx%v", ErrInvalidParameter, width, height)
	}
	return nil
}
