package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/imdevinc/recipe-mirror/internal/apperr"
	"github.com/imdevinc/recipe-mirror/internal/events"
	"github.com/imdevinc/recipe-mirror/internal/recipe"
)

// SetFavorite sets the favorite flag of one recipe. Setting the same value
// twice leaves the row unchanged.
func (db *DB) SetFavorite(ctx context.Context, id string, favorite bool) error {
	return db.withTx(ctx, []string{events.TableRecipes}, []string{id}, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE recipes SET is_favorite = ? WHERE id = ?`, boolInt(favorite), id)
		if err != nil {
			return fmt.Errorf("cache: set favorite: %w", err)
		}
		return requireRow(res, id)
	})
}

// AdjustLikes moves the local like override by delta, starting from the
// current effective count, and returns the new count. It never goes below 0.
func (db *DB) AdjustLikes(ctx context.Context, id string, delta int) (int, error) {
	var likes int
	err := db.withTx(ctx, []string{events.TableRecipes}, []string{id}, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE recipes
			SET like_override = MAX(0, COALESCE(like_override, like_count) + ?)
			WHERE id = ?
		`, delta, id)
		if err != nil {
			return fmt.Errorf("cache: adjust likes: %w", err)
		}
		if err := requireRow(res, id); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT like_override FROM recipes WHERE id = ?`, id).Scan(&likes)
	})
	return likes, err
}

// RecordView stores (or refreshes) the view of recipeID by userID and stamps
// the recipe's last viewed time.
func (db *DB) RecordView(ctx context.Context, recipeID, userID string, at time.Time) error {
	tables := []string{events.TableRecentViewed, events.TableRecipes}
	return db.withTx(ctx, tables, []string{recipeID}, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO recent_viewed (recipe_id, user_id, timestamp) VALUES (?, ?, ?)
			ON CONFLICT(recipe_id, user_id) DO UPDATE SET timestamp = excluded.timestamp
		`, recipeID, userID, at.UnixMilli()); err != nil {
			return fmt.Errorf("cache: record view: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE recipes SET last_viewed_time = ? WHERE id = ?`,
			at.UnixMilli(), recipeID); err != nil {
			return fmt.Errorf("cache: stamp last viewed: %w", err)
		}

		if db.recentRetention <= 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM recent_viewed
			WHERE user_id = ? AND id NOT IN (
				SELECT id FROM recent_viewed WHERE user_id = ?
				ORDER BY timestamp DESC, id DESC LIMIT ?
			)
		`, userID, userID, db.recentRetention); err != nil {
			return fmt.Errorf("cache: prune views: %w", err)
		}
		return nil
	})
}

// RecentView is one row of a user's view history joined with its recipe.
type RecentView struct {
	EntryID  int64
	ViewedAt time.Time
	Recipe   recipe.Recipe
}

// RecentlyViewed returns the user's most recent views, newest first, at most
// RecentlyViewedLimit rows. Older rows stay in storage.
func (db *DB) RecentlyViewed(ctx context.Context, userID string) ([]RecentView, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+recipeColumns+`, v.id, v.timestamp
		FROM recent_viewed v
		JOIN recipes r ON r.id = v.recipe_id
		WHERE v.user_id = ?
		ORDER BY v.timestamp DESC, v.id DESC
		LIMIT ?
	`, userID, RecentlyViewedLimit)
	if err != nil {
		return nil, fmt.Errorf("cache: recently viewed: %w", err)
	}
	defer rows.Close()

	out := []RecentView{}
	for rows.Next() {
		var (
			v        RecentView
			viewedAt int64
		)
		r, err := scanRecipe(rows, &v.EntryID, &viewedAt)
		if err != nil {
			return nil, fmt.Errorf("cache: scan recent view: %w", err)
		}
		v.Recipe = r
		v.ViewedAt = time.UnixMilli(viewedAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

// RemoveRecentByRecipe deletes the view of recipeID by userID.
func (db *DB) RemoveRecentByRecipe(ctx context.Context, recipeID, userID string) error {
	return db.withTx(ctx, []string{events.TableRecentViewed}, []string{recipeID}, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM recent_viewed WHERE recipe_id = ? AND user_id = ?`,
			recipeID, userID); err != nil {
			return fmt.Errorf("cache: remove recent: %w", err)
		}
		return nil
	})
}

// RemoveRecentByID deletes one view row by its surrogate id.
func (db *DB) RemoveRecentByID(ctx context.Context, entryID int64) error {
	return db.withTx(ctx, []string{events.TableRecentViewed}, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM recent_viewed WHERE id = ?`, entryID)
		if err != nil {
			return fmt.Errorf("cache: remove recent: %w", err)
		}
		return requireRow(res, fmt.Sprintf("view %d", entryID))
	})
}

// SearchEntry is one saved search query.
type SearchEntry struct {
	Query     string    `json:"query"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId"`
}

// SaveSearch records a query. The query is the key: saving it again only
// moves its timestamp.
func (db *DB) SaveSearch(ctx context.Context, query, userID string, at time.Time) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return fmt.Errorf("empty search query: %w", apperr.ErrInvalid)
	}

	return db.withTx(ctx, []string{events.TableSearchHistory}, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO search_history (query, timestamp, user_id) VALUES (?, ?, ?)
			ON CONFLICT(query) DO UPDATE SET timestamp = excluded.timestamp, user_id = excluded.user_id
		`, query, at.UnixMilli(), userID); err != nil {
			return fmt.Errorf("cache: save search: %w", err)
		}
		return nil
	})
}

// SearchHistory returns the user's most recent queries, at most SearchHistoryLimit.
func (db *DB) SearchHistory(ctx context.Context, userID string) ([]SearchEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT query, timestamp, user_id FROM search_history
		WHERE user_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, userID, SearchHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("cache: search history: %w", err)
	}
	defer rows.Close()

	out := []SearchEntry{}
	for rows.Next() {
		var (
			e  SearchEntry
			ts int64
		)
		if err := rows.Scan(&e.Query, &ts, &e.UserID); err != nil {
			return nil, fmt.Errorf("cache: scan search entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteSearch removes one saved query.
func (db *DB) DeleteSearch(ctx context.Context, query string) error {
	return db.withTx(ctx, []string{events.TableSearchHistory}, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM search_history WHERE query = ?`, query); err != nil {
			return fmt.Errorf("cache: delete search: %w", err)
		}
		return nil
	})
}

// ClearLocalUserData resets every user-local column and deletes view and
// search history. Remote-owned recipe rows stay.
func (db *DB) ClearLocalUserData(ctx context.Context) error {
	tables := []string{events.TableRecipes, events.TableRecentViewed, events.TableSearchHistory}
	return db.withTx(ctx, tables, nil, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`UPDATE recipes SET is_favorite = 0, like_override = NULL, last_viewed_time = NULL`,
			`DELETE FROM recent_viewed`,
			`DELETE FROM search_history`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("cache: clear user data: %w", err)
			}
		}
		return nil
	})
}

// Purge deletes every row of every table.
func (db *DB) Purge(ctx context.Context) error {
	tables := []string{
		events.TableRecipes, events.TableRecipeIndex, events.TableCategories,
		events.TableRecentViewed, events.TableSearchHistory,
	}
	return db.withTx(ctx, tables, nil, func(tx *sql.Tx) error {
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("cache: purge %s: %w", table, err)
			}
		}
		return nil
	})
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cache: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	}
	return nil
}
