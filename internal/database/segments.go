package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"crm-backend/internal/models"
)

type segmentRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Rules       string `db:"rules"`
	CreatedAt   string `db:"created_at"`
}

func (r segmentRow) toModel() (models.Segment, error) {
	s := models.Segment{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
	}

	var err error
	if s.Rules, err = deserializeRules(r.Rules); err != nil {
		return models.Segment{}, err
	}
	if s.CreatedAt, err = parseTime("created_at", r.CreatedAt); err != nil {
		return models.Segment{}, err
	}

	return s, nil
}

// InsertSegment stores a segment with its rule document as JSON.
func (db *DB) InsertSegment(ctx context.Context, s models.Segment) error {
	query, err := db.query("insert-segment")
	if err != nil {
		return err
	}

	rulesJSON, err := serializeRules(s.Rules)
	if err != nil {
		return err
	}

	if _, err := db.conn.ExecContext(ctx, query, s.ID, s.Name, s.Description, rulesJSON, formatTime(s.CreatedAt)); err != nil {
		return fmt.Errorf("failed to insert segment: %w", err)
	}

	return nil
}

// GetSegment returns a segment by id.
func (db *DB) GetSegment(ctx context.Context, id string) (models.Segment, error) {
	query, err := db.query("get-segment")
	if err != nil {
		return models.Segment{}, err
	}

	var row segmentRow
	if err := db.conn.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Segment{}, ErrNotFound
		}
		return models.Segment{}, fmt.Errorf("failed to get segment: %w", err)
	}

	return row.toModel()
}

// ListSegments returns all segments, newest first.
func (db *DB) ListSegments(ctx context.Context) ([]models.Segment, error) {
	query, err := db.query("list-segments")
	if err != nil {
		return nil, err
	}

	var rows []segmentRow
	if err := db.conn.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}

	segments := make([]models.Segment, 0, len(rows))
	for _, row := range rows {
		s, err := row.toModel()
		if err != nil {
			return nil, err
		}
		segments = append(segments, s)
	}

	return segments, nil
}

// serializeRules converts a rule document to its stored JSON form.
func serializeRules(doc models.RuleDocument) (string, error) {
	if doc.Conditions == nil {
		doc.Conditions = []models.Condition{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to serialize rules: %w", err)
	}
	return string(data), nil
}

// deserializeRules converts a stored rule document back from JSON.
func deserializeRules(serialized string) (models.RuleDocument, error) {
	var doc models.RuleDocument
	if err := json.Unmarshal([]byte(serialized), &doc); err != nil {
		return models.RuleDocument{}, fmt.Errorf("failed to deserialize rules: %w", err)
	}
	return doc, nil
}
