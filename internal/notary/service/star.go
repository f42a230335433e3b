package service

import (
	"strings"

	"github.com/jmerrifield20/starregistry/internal/notary/model"
)

const (
	maxStoryBytes = 500
	maxStoryWords = 250
)

// validateStar checks the fields every registered star must carry.
func validateStar(s model.Star) error {
	if strings.TrimSpace(s.RA) == "" {
		return &InvalidStarError{Field: "ra", Reason: "required"}
	}
	if strings.TrimSpace(s.Dec) == "" {
		return &InvalidStarError{Field: "dec", Reason: "required"}
	}
	if strings.TrimSpace(s.Story) == "" {
		return &InvalidStarError{Field: "story", Reason: "required"}
	}
	if len(s.Story) > maxStoryBytes {
		return &InvalidStarError{Field: "story", Reason: "longer than 500 bytes"}
	}
	if len(strings.Fields(s.Story)) > maxStoryWords {
		return &InvalidStarError{Field: "story", Reason: "longer than 250 words"}
	}
	return nil
}
