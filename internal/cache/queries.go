package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/imdevinc/recipe-mirror/internal/recipe"
)

// Read paths are pure projections; none of them write.

// Trending returns the most liked recipes, newest first on ties.
func (db *DB) Trending(ctx context.Context, limit int) ([]recipe.Recipe, error) {
	return db.listRecipes(ctx, "trending",
		`SELECT `+recipeColumns+` FROM recipes r
		ORDER BY `+likesExpr+` DESC, r.created_at DESC LIMIT ?`, sqlLimit(limit))
}

// Recommended returns popular recipes userID has not opened yet.
func (db *DB) Recommended(ctx context.Context, userID string, limit int) ([]recipe.Recipe, error) {
	return db.listRecipes(ctx, "recommended",
		`SELECT `+recipeColumns+` FROM recipes r
		WHERE NOT EXISTS (
			SELECT 1 FROM recent_viewed v WHERE v.recipe_id = r.id AND v.user_id = ?
		)
		ORDER BY `+likesExpr+` DESC, r.created_at DESC LIMIT ?`, userID, sqlLimit(limit))
}

// NewDishes returns the most recently created recipes.
func (db *DB) NewDishes(ctx context.Context, limit int) ([]recipe.Recipe, error) {
	return db.listRecipes(ctx, "new dishes",
		`SELECT `+recipeColumns+` FROM recipes r
		ORDER BY r.created_at DESC, r.id LIMIT ?`, sqlLimit(limit))
}

// ByCategory returns the recipes of one category, newest first.
func (db *DB) ByCategory(ctx context.Context, categoryID string) ([]recipe.Recipe, error) {
	return db.listRecipes(ctx, "by category",
		`SELECT `+recipeColumns+` FROM recipes r
		WHERE r.category_id = ?
		ORDER BY r.created_at DESC, r.id`, categoryID)
}

// Favorites returns recipes flagged as favorite.
func (db *DB) Favorites(ctx context.Context) ([]recipe.Recipe, error) {
	return db.listRecipes(ctx, "favorites",
		`SELECT `+recipeColumns+` FROM recipes r
		WHERE r.is_favorite = 1
		ORDER BY r.created_at DESC, r.id`)
}

// ByAuthor returns recipes written by one user.
func (db *DB) ByAuthor(ctx context.Context, userID string) ([]recipe.Recipe, error) {
	return db.listRecipes(ctx, "by author",
		`SELECT `+recipeColumns+` FROM recipes r
		WHERE r.user_id = ?
		ORDER BY r.created_at DESC, r.id`, userID)
}

// Search matches keyword as a case-insensitive substring of the recipe name.
// limit <= 0 returns every match. A blank keyword matches nothing.
func (db *DB) Search(ctx context.Context, keyword string, limit int) ([]recipe.Recipe, error) {
	pattern, ok := likePattern(keyword)
	if !ok {
		return []recipe.Recipe{}, nil
	}
	return db.listRecipes(ctx, "search",
		`SELECT `+recipeColumns+` FROM recipes r
		WHERE r.name_key LIKE ? ESCAPE '\'
		LIMIT ?`, pattern, sqlLimit(limit))
}

// Suggest matches keyword against the suggestion index, at most SuggestLimit rows.
func (db *DB) Suggest(ctx context.Context, keyword string) ([]IndexEntry, error) {
	pattern, ok := likePattern(keyword)
	if !ok {
		return []IndexEntry{}, nil
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name FROM recipe_index
		WHERE name_key LIKE ? ESCAPE '\'
		LIMIT ?
	`, pattern, SuggestLimit)
	if err != nil {
		return nil, fmt.Errorf("cache: suggest: %w", err)
	}
	defer rows.Close()

	out := []IndexEntry{}
	for rows.Next() {
		var e IndexEntry
		if err := rows.Scan(&e.ID, &e.Name); err != nil {
			return nil, fmt.Errorf("cache: scan suggestion: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (db *DB) listRecipes(ctx context.Context, what, query string, args ...any) ([]recipe.Recipe, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cache: %s: %w", what, err)
	}
	return collectRecipes(rows)
}

// sqlLimit maps "no limit" onto SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(keyword string) (string, bool) {
	key := recipe.NameKey(keyword)
	if key == "" {
		return "", false
	}
	return "%" + likeEscaper.Replace(key) + "%", true
}
