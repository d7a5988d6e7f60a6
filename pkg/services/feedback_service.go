package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/troupe-ai/troupe/pkg/database"
	"github.com/troupe-ai/troupe/pkg/models"
)

// FeedbackService maintains the three feedback tables behind model selection:
// personal success/failure tallies, per-context-tag tallies, and community
// star ratings shared across instances.
type FeedbackService struct {
	db *sql.DB
}

// NewFeedbackService creates a new FeedbackService
func NewFeedbackService(client *database.Client) *FeedbackService {
	return &FeedbackService{db: client.DB()}
}

// RecordPersonal adds one success or failure observation for a model within a
// category. Posting N times moves the tally exactly N times.
func (s *FeedbackService) RecordPersonal(httpCtx context.Context, model, category string, success bool) (*models.PersonalScore, error) {
	if model == "" {
		return nil, NewValidationError("model", "required")
	}
	if category == "" {
		return nil, NewValidationError("category", "required")
	}

	succ, fail := 0, 1
	if success {
		succ, fail = 1, 0
	}

	// Use background context with timeout for critical write
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	score := &models.PersonalScore{Model: model, Category: category}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO personal_scores (model, category, successes, failures, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (model, category) DO UPDATE SET
			successes = personal_scores.successes + EXCLUDED.successes,
			failures = personal_scores.failures + EXCLUDED.failures,
			updated_at = now()
		RETURNING successes, failures, updated_at`,
		model, category, succ, fail,
	).Scan(&score.Successes, &score.Failures, &score.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record personal feedback: %w", err)
	}
	return score, nil
}

// RecordContext adds one observation narrowed to a context tag.
func (s *FeedbackService) RecordContext(httpCtx context.Context, model, category, tag string, success bool) (*models.ContextScore, error) {
	if model == "" {
		return nil, NewValidationError("model", "required")
	}
	if category == "" {
		return nil, NewValidationError("category", "required")
	}
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return nil, NewValidationError("context_tag", "required")
	}

	succ, fail := 0, 1
	if success {
		succ, fail = 1, 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	score := &models.ContextScore{Model: model, Category: category, ContextTag: tag}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO context_scores (model, category, context_tag, successes, failures, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (model, category, context_tag) DO UPDATE SET
			successes = context_scores.successes + EXCLUDED.successes,
			failures = context_scores.failures + EXCLUDED.failures,
			updated_at = now()
		RETURNING successes, failures, updated_at`,
		model, category, tag, succ, fail,
	).Scan(&score.Successes, &score.Failures, &score.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record context feedback: %w", err)
	}
	return score, nil
}

// RecordCommunity adds one star rating from an instance, enforcing the hourly
// submission quota. A rejected submission does not consume quota. Contributor
// counts grow only on an instance's first rating for that (model, category).
func (s *FeedbackService) RecordCommunity(httpCtx context.Context, model, category string, rating float64, instanceID string, hourlyLimit int) (*models.CommunityScore, error) {
	if model == "" {
		return nil, NewValidationError("model", "required")
	}
	if category == "" {
		return nil, NewValidationError("category", "required")
	}
	if instanceID == "" {
		return nil, NewValidationError("instance_id", "required")
	}
	if rating < 1 || rating > 5 {
		return nil, NewValidationError("rating", "must be between 1 and 5")
	}
	if hourlyLimit <= 0 {
		hourlyLimit = 20
	}

	// Use background context with timeout for critical write
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var submissions int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO community_rate_limits (instance_id, window_start, submissions)
		VALUES ($1, date_trunc('hour', now()), 1)
		ON CONFLICT (instance_id, window_start) DO UPDATE SET
			submissions = community_rate_limits.submissions + 1
		RETURNING submissions`,
		instanceID,
	).Scan(&submissions)
	if err != nil {
		return nil, fmt.Errorf("failed to update rate limit window: %w", err)
	}
	if submissions > hourlyLimit {
		// Rollback discards the increment, so the window holds at the cap
		return nil, ErrRateLimited
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO community_contributors (model, category, instance_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (model, category, instance_id) DO NOTHING`,
		model, category, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to record contributor: %w", err)
	}
	newContributors, _ := res.RowsAffected()

	score := &models.CommunityScore{Model: model, Category: category}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO community_scores (model, category, total_ratings, sum_ratings, contributors, updated_at)
		VALUES ($1, $2, 1, $3, $4, now())
		ON CONFLICT (model, category) DO UPDATE SET
			total_ratings = community_scores.total_ratings + 1,
			sum_ratings = community_scores.sum_ratings + EXCLUDED.sum_ratings,
			contributors = community_scores.contributors + $4,
			updated_at = now()
		RETURNING total_ratings, sum_ratings, contributors, updated_at`,
		model, category, rating, newContributors,
	).Scan(&score.TotalRatings, &score.SumRatings, &score.Contributors, &score.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record community rating: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit community rating: %w", err)
	}
	return score, nil
}

// PersonalByCategory returns this instance's tallies for every model in a
// category, keyed by model id.
func (s *FeedbackService) PersonalByCategory(ctx context.Context, category string) (map[string]models.PersonalScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, successes, failures, updated_at
		FROM personal_scores WHERE category = $1`, category)
	if err != nil {
		return nil, fmt.Errorf("failed to load personal scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]models.PersonalScore)
	for rows.Next() {
		score := models.PersonalScore{Category: category}
		if err := rows.Scan(&score.Model, &score.Successes, &score.Failures, &score.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan personal score: %w", err)
		}
		scores[score.Model] = score
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load personal scores: %w", err)
	}
	return scores, nil
}

// ContextByCategory returns per-tag tallies for a category restricted to the
// given tags, keyed model → tag.
func (s *FeedbackService) ContextByCategory(ctx context.Context, category string, tags []string) (map[string]map[string]models.ContextScore, error) {
	scores := make(map[string]map[string]models.ContextScore)
	if len(tags) == 0 {
		return scores, nil
	}

	placeholders := make([]string, len(tags))
	args := make([]any, 0, len(tags)+1)
	args = append(args, category)
	for i, tag := range tags {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, tag)
	}

	query := fmt.Sprintf(`
		SELECT model, context_tag, successes, failures, updated_at
		FROM context_scores WHERE category = $1 AND context_tag IN (%s)`,
		strings.Join(placeholders, ", "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load context scores: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		score := models.ContextScore{Category: category}
		if err := rows.Scan(&score.Model, &score.ContextTag, &score.Successes,
			&score.Failures, &score.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan context score: %w", err)
		}
		if scores[score.Model] == nil {
			scores[score.Model] = make(map[string]models.ContextScore)
		}
		scores[score.Model][score.ContextTag] = score
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load context scores: %w", err)
	}
	return scores, nil
}

// CommunityByCategory returns shared rating aggregates for a category, keyed
// by model id.
func (s *FeedbackService) CommunityByCategory(ctx context.Context, category string) (map[string]models.CommunityScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, total_ratings, sum_ratings, contributors, updated_at
		FROM community_scores WHERE category = $1`, category)
	if err != nil {
		return nil, fmt.Errorf("failed to load community scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]models.CommunityScore)
	for rows.Next() {
		score := models.CommunityScore{Category: category}
		if err := rows.Scan(&score.Model, &score.TotalRatings, &score.SumRatings,
			&score.Contributors, &score.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan community score: %w", err)
		}
		scores[score.Model] = score
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load community scores: %w", err)
	}
	return scores, nil
}

// PruneRateLimitWindows drops rate-limit rows older than a day. Called by
// rankd's housekeeping loop; the table otherwise grows one row per instance
// per hour.
func (s *FeedbackService) PruneRateLimitWindows(ctx context.Context) (int, error) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `
		DELETE FROM community_rate_limits
		WHERE window_start < now() - interval '24 hours'`)
	if err != nil {
		return 0, fmt.Errorf("failed to prune rate limit windows: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
