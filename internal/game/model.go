package game

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
)

const (
	StatusActive   = "active"
	StatusFinished = "finished"

	KindHuman = "human"
	KindRival = "rival"

	DecisionDraft     = "draft"
	DecisionSubmitted = "submitted"

	// LeaderboardWindow is how many trailing rounds the cumulative
	// scorecard averages.
	LeaderboardWindow = 4

	joinCodeLength = 6
	maxNameLength  = 64
)

var (
	ErrGameNotFound         = errors.New("game not found")
	ErrTeamNotFound         = errors.New("team not found")
	ErrBrandNotFound        = errors.New("brand not found")
	ErrRoundNotFound        = errors.New("round not found")
	ErrDecisionNotFound     = errors.New("decision not found")
	ErrUnknownSegment       = errors.New("target segment is not part of this game")
	ErrDuplicateBrand       = errors.New("team already has an active brand with that name")
	ErrDuplicateTeam        = errors.New("game already has a team with that name")
	ErrBrandLimit           = errors.New("brand limit reached for this scenario")
	ErrNotAllSubmitted      = errors.New("not every team has submitted a decision")
	ErrAlreadySubmitted     = errors.New("decision already submitted for this round")
	ErrRoundConflict        = errors.New("round already advanced")
	ErrGameFinished         = errors.New("game is finished")
	ErrGameFull             = errors.New("game is full")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrInvalidName          = errors.New("invalid name")
	ErrUnauthorized         = errors.New("unauthorized")
)

var blockedNameFragments = []string{
	"admin",
	"moderator",
	"shit",
	"fuck",
	"bitch",
	"nazi",
}

// ValidateName applies the shared rules for team and brand names.
func ValidateName(name string) error {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(clean) > maxNameLength {
		return fmt.Errorf("%w: name too long (max %d chars)", ErrInvalidName, maxNameLength)
	}
	lower := strings.ToLower(clean)
	for _, fragment := range blockedNameFragments {
		if strings.Contains(lower, fragment) {
			return fmt.Errorf("%w: name contains blocked content", ErrInvalidName)
		}
	}
	return nil
}

// NormalizeCode upper-cases and trims a join code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func generateJoinCode() (string, error) {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	buf := make([]byte, joinCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = letters[int(buf[i])%len(letters)]
	}
	return string(buf), nil
}

// trailingAverage averages the last n values of xs.
func trailingAverage(xs []float64, n int) float64 {
	if len(xs) == 0 || n <= 0 {
		return 0
	}
	if len(xs) > n {
		xs = xs[len(xs)-n:]
	}
	var sum float64
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
}
