// Package matrix holds the 2×2 transformation snapshot the narrator reasons
// about and the formatting helpers its prompts use.
package matrix

import (
	"fmt"

	"github.com/eigensight/pkg/frames"
)

// State is a snapshot of the transformation the user is looking at, with the
// derived quantities the client already computed.
type State struct {
	A, B, C, D  float64
	Trace       float64
	Det         float64
	Disc        float64
	Collapsed   bool
	Eigenvalues []float64
}

// FromFrame converts an inbound matrix frame into a State.
func FromFrame(f frames.Matrix) State {
	return State{
		A:           f.A,
		B:           f.B,
		C:           f.C,
		D:           f.D,
		Trace:       f.Trace,
		Det:         f.Det,
		Disc:        f.Disc,
		Collapsed:   f.Collapsed,
		Eigenvalues: f.Eigenvalues,
	}
}

// Format renders the matrix in the [[a, b], [c, d]] form the prompts use.
func (s *State) Format() string {
	if s == nil {
		return "unknown"
	}
	return fmt.Sprintf("[[%.2f, %.2f], [%.2f, %.2f]]", s.A, s.B, s.C, s.D)
}

// HasRealEigenvectors reports whether the discriminant admits real
// eigenvalues, which is when the visualization draws eigenvector arrows.
func (s *State) HasRealEigenvectors() bool {
	return s != nil && s.Disc >= 0
}

// Changes describes what changed between a previous state and this one, as
// the sentences the narrator prompt leads with. Empty when nothing notable
// changed.
func (s *State) Changes(prev *State) []string {
	var changes []string
	if prev == nil {
		return changes
	}
	if s.Det*prev.Det < 0 {
		changes = append(changes, "Determinant sign flipped so orientation reversed.")
	}
	if s.Collapsed && !prev.Collapsed {
		changes = append(changes, "All transformed arrows collapse to the origin.")
	}
	if prev.Disc < 0 && s.Disc >= 0 {
		changes = append(changes, "Real eigenvectors appeared, shown as bold orange arrows.")
	}
	if prev.Disc >= 0 && s.Disc < 0 {
		changes = append(changes, "Eigenvectors vanished; the matrix now only rotates.")
	}
	return changes
}
