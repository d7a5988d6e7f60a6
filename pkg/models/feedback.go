package models

import "time"

// PersonalScore tracks this instance's own success/failure tally for a
// model within a category.
type PersonalScore struct {
	Model     string    `json:"model"`
	Category  string    `json:"category"`
	Successes int       `json:"successes"`
	Failures  int       `json:"failures"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Total returns the observation count.
func (s PersonalScore) Total() int { return s.Successes + s.Failures }

// Rate returns successes/(successes+failures), or 0 with no observations.
func (s PersonalScore) Rate() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.Successes) / float64(total)
}

// ContextScore is a PersonalScore narrowed to a single context tag.
type ContextScore struct {
	Model      string    `json:"model"`
	Category   string    `json:"category"`
	ContextTag string    `json:"context_tag"`
	Successes  int       `json:"successes"`
	Failures   int       `json:"failures"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Total returns the observation count.
func (s ContextScore) Total() int { return s.Successes + s.Failures }

// Rate returns successes/(successes+failures), or 0 with no observations.
func (s ContextScore) Rate() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.Successes) / float64(total)
}

// CommunityScore aggregates star ratings shared across instances.
type CommunityScore struct {
	Model        string    `json:"model"`
	Category     string    `json:"category"`
	TotalRatings int       `json:"total_ratings"`
	SumRatings   float64   `json:"sum_ratings"`
	Contributors int       `json:"contributors"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Average returns the mean rating, or 0 with no ratings.
func (s CommunityScore) Average() float64 {
	if s.TotalRatings == 0 {
		return 0
	}
	return s.SumRatings / float64(s.TotalRatings)
}
