package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/imdevinc/recipe-mirror/internal/apperr"
	"github.com/imdevinc/recipe-mirror/internal/events"
	"github.com/imdevinc/recipe-mirror/internal/recipe"
)

const recipeColumns = `r.id, r.name, r.description, r.time_cook, r.difficulty, r.image_url, r.people,
	r.ingredients, r.steps, r.user_id, r.author_name, r.author_avatar, r.category_id,
	r.created_at, r.like_count, r.like_override, r.is_favorite, r.last_viewed_time`

const likesExpr = `COALESCE(r.like_override, r.like_count)`

// SQLite's default host parameter limit is 999 on older builds.
const maxParams = 500

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipe(s rowScanner, extra ...any) (recipe.Recipe, error) {
	var (
		r            recipe.Recipe
		ingredients  string
		steps        string
		createdAt    int64
		likeOverride sql.NullInt64
		isFavorite   int
		lastViewed   sql.NullInt64
	)

	dest := []any{
		&r.ID, &r.Name, &r.Description, &r.TimeCook, &r.Difficulty, &r.ImageURL, &r.People,
		&ingredients, &steps, &r.UserID, &r.AuthorName, &r.AuthorAvatar, &r.CategoryID,
		&createdAt, &r.LikeCount, &likeOverride, &isFavorite, &lastViewed,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return recipe.Recipe{}, err
	}

	r.Ingredients = recipe.DecodeList(ingredients)
	r.Steps = recipe.DecodeList(steps)
	r.CreatedAt = time.UnixMilli(createdAt)
	r.IsFavorite = isFavorite != 0
	if likeOverride.Valid {
		n := int(likeOverride.Int64)
		r.LikeOverride = &n
	}
	if lastViewed.Valid {
		t := time.UnixMilli(lastViewed.Int64)
		r.LastViewed = &t
	}
	return r, nil
}

func collectRecipes(rows *sql.Rows) ([]recipe.Recipe, error) {
	defer rows.Close()

	out := []recipe.Recipe{}
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, fmt.Errorf("cache: scan recipe: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullableInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func recipeArgs(r recipe.Recipe) []any {
	return []any{
		r.ID, r.Name, recipe.NameKey(r.Name), r.Description, r.TimeCook, r.Difficulty, r.ImageURL, r.People,
		recipe.EncodeList(r.Ingredients), recipe.EncodeList(r.Steps), r.UserID, r.AuthorName, r.AuthorAvatar,
		r.CategoryID, r.CreatedAt.UnixMilli(), r.LikeCount,
		nullableInt(r.LikeOverride), boolInt(r.IsFavorite), nullableMillis(r.LastViewed),
	}
}

const insertRecipeSQL = `
	INSERT INTO recipes (id, name, name_key, description, time_cook, difficulty, image_url, people,
		ingredients, steps, user_id, author_name, author_avatar, category_id, created_at, like_count,
		like_override, is_favorite, last_viewed_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name          = excluded.name,
		name_key      = excluded.name_key,
		description   = excluded.description,
		time_cook     = excluded.time_cook,
		difficulty    = excluded.difficulty,
		image_url     = excluded.image_url,
		people        = excluded.people,
		ingredients   = excluded.ingredients,
		steps         = excluded.steps,
		user_id       = excluded.user_id,
		author_name   = excluded.author_name,
		author_avatar = excluded.author_avatar,
		category_id   = excluded.category_id,
		created_at    = excluded.created_at,
		like_count    = excluded.like_count`

// A remote upsert never overwrites user-local columns of an existing row,
// even if a local toggle commits between the caller's read and this write.
const upsertRemoteSQL = insertRecipeSQL

// A local save owns every column.
const upsertLocalSQL = insertRecipeSQL + `,
		like_override    = excluded.like_override,
		is_favorite      = excluded.is_favorite,
		last_viewed_time = excluded.last_viewed_time`

// GetRecipe returns a single recipe or apperr.ErrNotFound.
func (db *DB) GetRecipe(ctx context.Context, id string) (recipe.Recipe, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+recipeColumns+` FROM recipes r WHERE r.id = ?`, id)
	r, err := scanRecipe(row)
	if errors.Is(err, sql.ErrNoRows) {
		return recipe.Recipe{}, fmt.Errorf("recipe %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return recipe.Recipe{}, fmt.Errorf("cache: get recipe: %w", err)
	}
	return r, nil
}

// GetRecipes returns the existing rows for ids, keyed by id. Missing ids are
// simply absent from the map.
func (db *DB) GetRecipes(ctx context.Context, ids []string) (map[string]recipe.Recipe, error) {
	out := make(map[string]recipe.Recipe, len(ids))

	for start := 0; start < len(ids); start += maxParams {
		end := min(start+maxParams, len(ids))
		chunk := ids[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		rows, err := db.conn.QueryContext(ctx,
			`SELECT `+recipeColumns+` FROM recipes r WHERE r.id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("cache: get recipes: %w", err)
		}
		found, err := collectRecipes(rows)
		if err != nil {
			return nil, err
		}
		for _, r := range found {
			out[r.ID] = r
		}
	}

	return out, nil
}

// UpsertRemoteRecipes writes a batch of remote-origin rows in one transaction.
// Rows are expected to be merged with their existing state already.
func (db *DB) UpsertRemoteRecipes(ctx context.Context, batch []recipe.Recipe) error {
	return db.upsertRecipes(ctx, upsertRemoteSQL, batch)
}

// InsertRecipe writes a local-origin row, including its user-local columns.
func (db *DB) InsertRecipe(ctx context.Context, r recipe.Recipe) error {
	return db.upsertRecipes(ctx, upsertLocalSQL, []recipe.Recipe{r})
}

func (db *DB) upsertRecipes(ctx context.Context, query string, batch []recipe.Recipe) error {
	if len(batch) == 0 {
		return nil
	}

	ids := make([]string, len(batch))
	for i, r := range batch {
		ids[i] = r.ID
	}

	return db.withTx(ctx, []string{events.TableRecipes}, ids, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("cache: prepare recipe upsert: %w", err)
		}
		defer stmt.Close()

		for _, r := range batch {
			if _, err := stmt.ExecContext(ctx, recipeArgs(r)...); err != nil {
				return fmt.Errorf("cache: upsert recipe %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// IndexEntry is a row of the lightweight suggestion index.
type IndexEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UpsertIndex writes suggestion index entries in one transaction.
func (db *DB) UpsertIndex(ctx context.Context, entries []IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	return db.withTx(ctx, []string{events.TableRecipeIndex}, nil, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO recipe_index (id, name, name_key) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, name_key = excluded.name_key
		`)
		if err != nil {
			return fmt.Errorf("cache: prepare index upsert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.ID, e.Name, recipe.NameKey(e.Name)); err != nil {
				return fmt.Errorf("cache: upsert index %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// UpsertCategories writes mirrored categories in one transaction.
func (db *DB) UpsertCategories(ctx context.Context, batch []recipe.Category) error {
	if len(batch) == 0 {
		return nil
	}

	return db.withTx(ctx, []string{events.TableCategories}, nil, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO categories (id, name, image_url) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, image_url = excluded.image_url
		`)
		if err != nil {
			return fmt.Errorf("cache: prepare category upsert: %w", err)
		}
		defer stmt.Close()

		for _, c := range batch {
			if _, err := stmt.ExecContext(ctx, c.ID, c.Name, c.ImageURL); err != nil {
				return fmt.Errorf("cache: upsert category %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// Categories returns every mirrored category ordered by name.
func (db *DB) Categories(ctx context.Context) ([]recipe.Category, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name, image_url FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("cache: categories: %w", err)
	}
	defer rows.Close()

	out := []recipe.Category{}
	for rows.Next() {
		var c recipe.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ImageURL); err != nil {
			return nil, fmt.Errorf("cache: scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
