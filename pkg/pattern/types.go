// Package pattern learns recurring behavioural signals per owner and domain.
//
// Every observation of the same (owner, domain, text) key reinforces one
// stored pattern: its frequency grows by one and its confidence by a fixed
// step up to 1.0. Confidence fades with absence through a forgetting curve
// applied at read time. Consumers bias decisions with Score and Rank.
package pattern

import (
	"time"
)

// Defaults for the learner.
const (
	DefaultTable             = "life_ceo_patterns"
	DefaultInitialConfidence = 0.5
	DefaultStep              = 0.05
	DefaultMatchThreshold    = 0.5
	DefaultWeight            = 1.0
)

// Metadata keys used in the pattern table.
const (
	metaFrequency  = "frequency"
	metaConfidence = "confidence"
)

// Pattern is a recurring signal observed for an owner in a domain.
type Pattern struct {
	// ID is derived from the (owner, domain, text) key.
	ID string `json:"id"`

	OwnerID  string `json:"owner_id"`
	DomainID string `json:"domain_id"`

	// Text is the observed signal, e.g. "morning workout".
	Text string `json:"text"`

	// Frequency counts observations.
	Frequency int `json:"frequency"`

	// Confidence is the stored confidence in [0, 1], before decay.
	Confidence float64 `json:"confidence"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Candidate is an action to be ranked against learned patterns.
type Candidate struct {
	// Name identifies the candidate to the caller.
	Name string

	// Text is matched against pattern texts.
	Text string

	// BaseScore is the score before pattern bias.
	BaseScore float64
}

// Ranked is a Candidate with its biased score.
type Ranked struct {
	Candidate

	Score float64

	// Matched lists the texts of the patterns that contributed to Score.
	Matched []string
}

// Match is a pattern returned by embedding similarity.
type Match struct {
	Pattern    *Pattern
	Similarity float64
}
