package genmix

import (
	"errors"
	"fmt"
)

// ErrNotFitted is returned when Sample, Score or ScoreSamples is called
// before a successful Fit.
var ErrNotFitted = errors.New("genmix: model is not fitted")

// DimensionError is returned when the feature dimension of the input data
// disagrees with the dimension recorded at fit time.
type DimensionError struct {
	Want, Got int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("genmix: data has dimension %d, model was fit with dimension %d", e.Got, e.Want)
}

// SingularError is returned when a required matrix inversion encounters a
// singular or non-positive-definite matrix. Component is the index of the
// mixture component whose computation failed, and Iteration the EM iteration
// during which the failure occurred (-1 outside the iteration loop).
type SingularError struct {
	Component int
	Iteration int
}

func (e *SingularError) Error() string {
	if e.Iteration < 0 {
		return fmt.Sprintf("genmix: singular covariance for component %d", e.Component)
	}
	return fmt.Sprintf("genmix: singular covariance for component %d at iteration %d", e.Component, e.Iteration)
}
