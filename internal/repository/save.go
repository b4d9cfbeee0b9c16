package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/imdevinc/recipe-mirror/internal/apperr"
	"github.com/imdevinc/recipe-mirror/internal/cache"
	"github.com/imdevinc/recipe-mirror/internal/recipe"
	"github.com/imdevinc/recipe-mirror/internal/util"
)

// Draft is a user-authored recipe before it has an id.
type Draft struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	ImageURL     string   `json:"imageUrl"`
	TimeCook     int      `json:"timeCook"`
	Difficulty   string   `json:"difficulty"`
	People       int      `json:"people"`
	Ingredients  []string `json:"ingredients"`
	Steps        []string `json:"steps"`
	CategoryID   string   `json:"categoryId"`
	UserID       string   `json:"userId"`
	AuthorName   string   `json:"authorName"`
	AuthorAvatar string   `json:"authorAvatar"`
}

// Validate checks the draft before it is saved.
func (d Draft) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&d.TimeCook, validation.Min(0)),
		validation.Field(&d.People, validation.Min(1)),
		validation.Field(&d.Difficulty, validation.By(knownDifficulty)),
		validation.Field(&d.Ingredients, validation.Each(validation.Required)),
		validation.Field(&d.Steps, validation.Each(validation.Required)),
	)
}

func knownDifficulty(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	d := recipe.ParseDifficulty(s)
	if strings.EqualFold(s, string(d)) || s == d.Display() {
		return nil
	}
	return errors.New("must be easy, medium or hard")
}

// SaveResult reports how far a save got. The local row always exists when
// SaveRecipe returns a nil error. Pending means the remote write failed and
// was queued; Err holds that failure for the user-facing indicator.
type SaveResult struct {
	Recipe  recipe.Recipe
	Pending bool
	Err     error
}

// SaveRecipe stores a new recipe locally and then writes it to the remote
// store. A remote failure does not undo the local row.
func (r *Repository) SaveRecipe(ctx context.Context, d Draft) (SaveResult, error) {
	if err := d.Validate(); err != nil {
		return SaveResult{}, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	if d.People == 0 {
		d.People = recipe.DefaultPeople
	}

	rec := recipe.Recipe{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(d.Name),
		Description:  d.Description,
		ImageURL:     d.ImageURL,
		TimeCook:     d.TimeCook,
		Difficulty:   recipe.ParseDifficulty(d.Difficulty).Display(),
		People:       d.People,
		Ingredients:  nonNil(d.Ingredients),
		Steps:        nonNil(d.Steps),
		CategoryID:   d.CategoryID,
		UserID:       r.user(d.UserID),
		AuthorName:   d.AuthorName,
		AuthorAvatar: d.AuthorAvatar,
		// The remote layout has second precision
		CreatedAt: r.now().Truncate(time.Second),
	}

	if err := r.db.InsertRecipe(ctx, rec); err != nil {
		return SaveResult{}, err
	}
	if err := r.db.UpsertIndex(ctx, []cache.IndexEntry{{ID: rec.ID, Name: rec.Name}}); err != nil {
		return SaveResult{}, err
	}

	res := SaveResult{Recipe: rec}
	fields := recipe.ToDocument(rec, r.location)

	if r.remote == nil {
		res.Pending = true
		res.Err = fmt.Errorf("no remote configured: %w", apperr.ErrRemoteUnavailable)
		return res, nil
	}

	err := util.Retry(ctx, r.retry, func() error {
		return r.remote.Set(ctx, r.collection, rec.ID, fields)
	}, func(err error) bool {
		return !errors.Is(err, apperr.ErrInvalid)
	})
	if err == nil {
		return res, nil
	}

	r.logger.Warn("Remote save failed, queued for retry", "id", rec.ID, "error", err)
	res.Pending = true
	res.Err = err
	if r.outbox != nil {
		if _, qerr := r.outbox.Enqueue(r.collection, rec.ID, fields, err); qerr != nil {
			r.logger.Error("Failed to queue remote save", "id", rec.ID, "error", qerr)
		}
	}
	return res, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
