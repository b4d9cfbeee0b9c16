// Package recipe defines the cached recipe projection and the rules for
// reading schemaless remote documents into it.
package recipe

import (
	"strings"
	"time"
)

// Recipe is the local projection of a remote recipe document plus the
// user-local overlay (IsFavorite, LikeOverride, LastViewed) that remote
// sync must never clobber.
type Recipe struct {
	ID           string
	Name         string
	Description  string
	ImageURL     string
	TimeCook     int // minutes
	Difficulty   string
	People       int
	Ingredients  []string
	Steps        []string
	CategoryID   string
	UserID       string
	AuthorName   string
	AuthorAvatar string
	CreatedAt    time.Time
	LikeCount    int

	LikeOverride *int
	IsFavorite   bool
	LastViewed   *time.Time
}

// Likes returns the like count to display: the local override when one has
// been recorded, otherwise the server value.
func (r Recipe) Likes() int {
	if r.LikeOverride != nil {
		return *r.LikeOverride
	}
	return r.LikeCount
}

// Category is a mirrored row of the remote categories collection.
type Category struct {
	ID       string
	Name     string
	ImageURL string
}

// Mode selects how much of a recipe document a sync pass reads.
type Mode string

const (
	// ModeFull reads every field.
	ModeFull Mode = "full"
	// ModeHome reads only what list screens render; descriptive fields are
	// carried forward from the existing row.
	ModeHome Mode = "home"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeFull || m == ModeHome
}

// Difficulty is the remote enumeration code.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

var difficultyDisplay = map[Difficulty]string{
	Easy:   "Dễ",
	Medium: "Trung bình",
	Hard:   "Khó",
}

// Display returns the localized label stored in the cache.
func (d Difficulty) Display() string {
	if s, ok := difficultyDisplay[d]; ok {
		return s
	}
	return difficultyDisplay[Medium]
}

// ParseDifficulty accepts a code in any case or a display label. Anything
// else maps to Medium.
func ParseDifficulty(s string) Difficulty {
	s = strings.TrimSpace(s)
	switch d := Difficulty(strings.ToLower(s)); d {
	case Easy, Medium, Hard:
		return d
	}
	for d, label := range difficultyDisplay {
		if strings.EqualFold(label, s) {
			return d
		}
	}
	return Medium
}

// NameKey is the form names are matched on: Unicode lower case, trimmed.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
