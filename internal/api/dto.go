package api

import (
	"time"

	"github.com/imdevinc/recipe-mirror/internal/cache"
	"github.com/imdevinc/recipe-mirror/internal/hub"
	"github.com/imdevinc/recipe-mirror/internal/recipe"
)

// RecipeDTO is the wire form of a cached recipe. Likes is the effective
// count, local override included.
type RecipeDTO struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	ImageURL     string     `json:"imageUrl,omitempty"`
	TimeCook     int        `json:"timeCook"`
	Difficulty   string     `json:"difficulty"`
	People       int        `json:"people"`
	Ingredients  []string   `json:"ingredients"`
	Steps        []string   `json:"steps"`
	CategoryID   string     `json:"categoryId,omitempty"`
	UserID       string     `json:"userId,omitempty"`
	AuthorName   string     `json:"authorName,omitempty"`
	AuthorAvatar string     `json:"authorAvatar,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	Likes        int        `json:"likes"`
	IsFavorite   bool       `json:"isFavorite"`
	LastViewed   *time.Time `json:"lastViewed,omitempty"`
}

func toDTO(r recipe.Recipe) RecipeDTO {
	return RecipeDTO{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		ImageURL:     r.ImageURL,
		TimeCook:     r.TimeCook,
		Difficulty:   r.Difficulty,
		People:       r.People,
		Ingredients:  r.Ingredients,
		Steps:        r.Steps,
		CategoryID:   r.CategoryID,
		UserID:       r.UserID,
		AuthorName:   r.AuthorName,
		AuthorAvatar: r.AuthorAvatar,
		CreatedAt:    r.CreatedAt,
		Likes:        r.Likes(),
		IsFavorite:   r.IsFavorite,
		LastViewed:   r.LastViewed,
	}
}

func toDTOs(list []recipe.Recipe) []RecipeDTO {
	out := make([]RecipeDTO, len(list))
	for i, r := range list {
		out[i] = toDTO(r)
	}
	return out
}

// RecentDTO is one recently viewed row.
type RecentDTO struct {
	EntryID  int64     `json:"entryId"`
	ViewedAt time.Time `json:"viewedAt"`
	Recipe   RecipeDTO `json:"recipe"`
}

// CategoryDTO is the wire form of a category.
type CategoryDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// SaveResponse reports a recipe save. Pending is set when the remote write
// was queued; Error then carries the failure.
type SaveResponse struct {
	Recipe  RecipeDTO `json:"recipe"`
	Pending bool      `json:"pending"`
	Error   string    `json:"error,omitempty"`
}

// OutboxStatus counts queued remote writes.
type OutboxStatus struct {
	Pending int `json:"pending"`
	Parked  int `json:"parked"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Workers []hub.WorkerStatus `json:"workers"`
	Cache   cache.Stats        `json:"cache"`
	Outbox  *OutboxStatus      `json:"outbox,omitempty"`
}
