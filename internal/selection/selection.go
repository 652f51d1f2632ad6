// Package selection picks one scene per search window from ranked candidates.
package selection

import (
	"errors"

	"github.com/robert-malhotra/changewatch/internal/catalog"
)

// ErrNoCandidateFound is returned when a search produced no usable scene.
var ErrNoCandidateFound = errors.New("no candidate found")

// Selection is either a found scene or a reason why none was found.
type Selection struct {
	Scene catalog.SceneCandidate
	Found bool
	Err   error
}

// Found wraps a selected scene.
func Found(scene catalog.SceneCandidate) Selection {
	return Selection{Scene: scene.Clone(), Found: true}
}

// NotFound wraps the reason no scene was selected. A nil reason becomes
// ErrNoCandidateFound.
func NotFound(reason error) Selection {
	if reason == nil {
		reason = ErrNoCandidateFound
	}
	return Selection{Err: reason}
}

// Select picks the first of the already ranked candidates.
func Select(candidates []catalog.SceneCandidate) Selection {
	if len(candidates) == 0 {
		return NotFound(ErrNoCandidateFound)
	}
	return Found(candidates[0])
}
