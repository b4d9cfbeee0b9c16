package recipe

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/imdevinc/recipe-mirror/internal/apperr"
)

// CreatedAtLayout is the string encoding of createdAt in remote documents.
const CreatedAtLayout = "2006-01-02T15:04:05"

// Remote field names.
const (
	FieldName         = "name"
	FieldDescription  = "description"
	FieldImageURL     = "imageUrl"
	FieldTimeCook     = "timeCook"
	FieldDifficulty   = "difficulty"
	FieldPeople       = "people"
	FieldIngredients  = "ingredients"
	FieldSteps        = "steps"
	FieldInstructions = "instructions"
	FieldCategoryID   = "categoryId"
	FieldUserID       = "userId"
	FieldAuthorName   = "authorName"
	FieldAuthorAvatar = "authorAvatar"
	FieldCreatedAt    = "createdAt"
	FieldLikeCount    = "likeCount"
)

// Defaults applied when a field is missing or has the wrong shape.
const (
	DefaultTimeCook   = 0
	DefaultPeople     = 1
	DefaultLikeCount  = 0
	DefaultDifficulty = Medium
)

// Parser turns remote documents into cache rows. The zero value parses
// timestamps in UTC and uses the wall clock for the createdAt fallback.
type Parser struct {
	Location *time.Location
	Now      func() time.Time
}

// ParseRecipe reads a recipe document. The only failure is a missing name;
// every other field falls back to its default.
func (p Parser) ParseRecipe(id string, doc map[string]any, mode Mode) (Recipe, error) {
	name := stringField(doc, FieldName, "")
	if strings.TrimSpace(name) == "" {
		return Recipe{}, fmt.Errorf("recipe %s: missing %s: %w", id, FieldName, apperr.ErrMalformedDocument)
	}

	r := Recipe{
		ID:          id,
		Name:        name,
		ImageURL:    stringField(doc, FieldImageURL, ""),
		TimeCook:    intField(doc, FieldTimeCook, DefaultTimeCook),
		Difficulty:  ParseDifficulty(stringField(doc, FieldDifficulty, string(DefaultDifficulty))).Display(),
		People:      intField(doc, FieldPeople, DefaultPeople),
		CategoryID:  stringField(doc, FieldCategoryID, ""),
		UserID:      stringField(doc, FieldUserID, ""),
		CreatedAt:   p.parseCreatedAt(doc[FieldCreatedAt]),
		LikeCount:   intField(doc, FieldLikeCount, DefaultLikeCount),
		Ingredients: []string{},
		Steps:       []string{},
	}

	if mode == ModeHome {
		return r, nil
	}

	r.Description = stringField(doc, FieldDescription, "")
	r.Ingredients = stringsField(doc, FieldIngredients)
	r.Steps = stringsField(doc, FieldSteps)
	if len(r.Steps) == 0 {
		r.Steps = stringsField(doc, FieldInstructions)
	}
	r.AuthorName = stringField(doc, FieldAuthorName, "")
	r.AuthorAvatar = stringField(doc, FieldAuthorAvatar, "")

	return r, nil
}

// ParseCategory reads a category document.
func (p Parser) ParseCategory(id string, doc map[string]any) (Category, error) {
	name := stringField(doc, FieldName, "")
	if strings.TrimSpace(name) == "" {
		return Category{}, fmt.Errorf("category %s: missing %s: %w", id, FieldName, apperr.ErrMalformedDocument)
	}
	return Category{
		ID:       id,
		Name:     name,
		ImageURL: stringField(doc, FieldImageURL, ""),
	}, nil
}

// ToDocument renders r in the remote shape for a merge-style write.
// createdAt is written as wall-clock time in loc, the zone the parser reads
// it back in. User-local fields are never included.
func ToDocument(r Recipe, loc *time.Location) map[string]any {
	if loc == nil {
		loc = time.UTC
	}
	return map[string]any{
		FieldName:         r.Name,
		FieldDescription:  r.Description,
		FieldImageURL:     r.ImageURL,
		FieldTimeCook:     r.TimeCook,
		FieldDifficulty:   string(ParseDifficulty(r.Difficulty)),
		FieldPeople:       r.People,
		FieldIngredients:  r.Ingredients,
		FieldSteps:        r.Steps,
		FieldCategoryID:   r.CategoryID,
		FieldUserID:       r.UserID,
		FieldAuthorName:   r.AuthorName,
		FieldAuthorAvatar: r.AuthorAvatar,
		FieldCreatedAt:    r.CreatedAt.In(loc).Format(CreatedAtLayout),
		FieldLikeCount:    r.LikeCount,
	}
}

func (p Parser) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p Parser) location() *time.Location {
	if p.Location != nil {
		return p.Location
	}
	return time.UTC
}

// parseCreatedAt falls back to now on any problem. This is deliberate
// degradation, not an error.
func (p Parser) parseCreatedAt(v any) time.Time {
	switch t := v.(type) {
	case string:
		if parsed, err := time.ParseInLocation(CreatedAtLayout, strings.TrimSpace(t), p.location()); err == nil {
			return parsed
		}
	case float64:
		// Some writers store epoch millis
		if t > 0 {
			return time.UnixMilli(int64(t))
		}
	}
	return p.now()
}

func stringField(doc map[string]any, key, def string) string {
	switch v := doc[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return def
}

func intField(doc map[string]any, key string, def int) int {
	switch v := doc[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return def
		}
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func stringsField(doc map[string]any, key string) []string {
	switch v := doc[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string{}, v...)
	case string:
		// Older documents store lists as an encoded string
		return DecodeList(v)
	}
	return []string{}
}
