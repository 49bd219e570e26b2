// Package scoring computes a completeness score for leads.
package scoring

import (
	"strings"

	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/store"
)

// MaxScore caps every score.
const MaxScore = 100

// Weights are the additive points awarded per present field.
type Weights struct {
	Company  int
	Phone    int
	Service  int
	Location int // city and state both present
	Email    int
}

// DefaultWeights returns the standard weighting.
func DefaultWeights() Weights {
	return Weights{Company: 20, Phone: 15, Service: 10, Location: 10, Email: 20}
}

// WeightsFromConfig converts the scoring config group.
func WeightsFromConfig(c config.ScoringConfig) Weights {
	return Weights{
		Company:  c.Company,
		Phone:    c.Phone,
		Service:  c.Service,
		Location: c.Location,
		Email:    c.Email,
	}
}

// Scorer is a pure function of the lead's field completeness.
type Scorer struct {
	w Weights
}

func New(w Weights) *Scorer {
	return &Scorer{w: w}
}

// Score returns a value in [0, MaxScore]. Contact fields flagged invalid do
// not earn points.
func (s *Scorer) Score(l store.Lead) int {
	score := 0
	if present(l.Company) {
		score += s.w.Company
	}
	if present(l.Phone) && !l.PhoneInvalid {
		score += s.w.Phone
	}
	if present(l.Service) {
		score += s.w.Service
	}
	if present(l.City) && present(l.State) {
		score += s.w.Location
	}
	if present(l.Email) && !l.EmailInvalid {
		score += s.w.Email
	}
	if score > MaxScore {
		return MaxScore
	}
	if score < 0 {
		return 0
	}
	return score
}

func present(v string) bool { return strings.TrimSpace(v) != "" }
