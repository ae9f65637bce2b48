package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"crm-backend/internal/models"
)

type campaignRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	SegmentID    string `db:"segment_id"`
	Rules        string `db:"rules"`
	Message      string `db:"message"`
	Status       string `db:"status"`
	AudienceSize int    `db:"audience_size"`
	CreatedAt    string `db:"created_at"`
}

func (r campaignRow) toModel() (models.Campaign, error) {
	c := models.Campaign{
		ID:           r.ID,
		Name:         r.Name,
		SegmentID:    r.SegmentID,
		Message:      r.Message,
		Status:       models.CampaignStatus(r.Status),
		AudienceSize: r.AudienceSize,
	}

	var err error
	if c.Rules, err = deserializeRules(r.Rules); err != nil {
		return models.Campaign{}, err
	}
	if c.CreatedAt, err = parseTime("created_at", r.CreatedAt); err != nil {
		return models.Campaign{}, err
	}

	return c, nil
}

type statsRow struct {
	Sent   int `db:"sent"`
	Failed int `db:"failed"`
}

func (r statsRow) toStats(audienceSize int) models.CampaignStats {
	return models.CampaignStats{
		Sent:    r.Sent,
		Failed:  r.Failed,
		Pending: max(0, audienceSize-r.Sent-r.Failed),
	}
}

// InsertCampaign stores a campaign together with its rule snapshot.
func (db *DB) InsertCampaign(ctx context.Context, c models.Campaign) error {
	query, err := db.query("insert-campaign")
	if err != nil {
		return err
	}

	rulesJSON, err := serializeRules(c.Rules)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx, query,
		c.ID,
		c.Name,
		c.SegmentID,
		rulesJSON,
		c.Message,
		string(c.Status),
		c.AudienceSize,
		formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert campaign: %w", err)
	}

	return nil
}

// GetCampaign returns a campaign and its delivery stats.
func (db *DB) GetCampaign(ctx context.Context, id string) (models.CampaignWithStats, error) {
	query, err := db.query("get-campaign")
	if err != nil {
		return models.CampaignWithStats{}, err
	}
	statsQuery, err := db.query("campaign-stats")
	if err != nil {
		return models.CampaignWithStats{}, err
	}

	var row campaignRow
	if err := db.conn.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.CampaignWithStats{}, ErrNotFound
		}
		return models.CampaignWithStats{}, fmt.Errorf("failed to get campaign: %w", err)
	}

	campaign, err := row.toModel()
	if err != nil {
		return models.CampaignWithStats{}, err
	}

	var stats statsRow
	if err := db.conn.GetContext(ctx, &stats, statsQuery, id); err != nil {
		return models.CampaignWithStats{}, fmt.Errorf("failed to get campaign stats: %w", err)
	}

	return models.CampaignWithStats{Campaign: campaign, Stats: stats.toStats(campaign.AudienceSize)}, nil
}

// ListCampaigns returns all campaigns with their delivery stats, newest first.
func (db *DB) ListCampaigns(ctx context.Context) ([]models.CampaignWithStats, error) {
	query, err := db.query("list-campaigns-with-stats")
	if err != nil {
		return nil, err
	}

	var rows []struct {
		campaignRow
		statsRow
	}
	if err := db.conn.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	campaigns := make([]models.CampaignWithStats, 0, len(rows))
	for _, row := range rows {
		c, err := row.campaignRow.toModel()
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, models.CampaignWithStats{
			Campaign: c,
			Stats:    row.statsRow.toStats(c.AudienceSize),
		})
	}

	return campaigns, nil
}

// UpdateCampaignStatus moves a campaign to a new delivery status.
func (db *DB) UpdateCampaignStatus(ctx context.Context, id string, status models.CampaignStatus) error {
	query, err := db.query("update-campaign-status")
	if err != nil {
		return err
	}

	res, err := db.conn.ExecContext(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// InsertCommunicationLogs stores delivery logs in a single transaction.
func (db *DB) InsertCommunicationLogs(ctx context.Context, logs []models.CommunicationLog) (int, error) {
	if len(logs) == 0 {
		return 0, nil
	}

	query, err := db.query("insert-communication-log")
	if err != nil {
		return 0, err
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, l := range logs {
		_, err := stmt.ExecContext(ctx,
			l.ID,
			l.CampaignID,
			l.CustomerID,
			l.Message,
			string(l.Status),
			formatTime(l.SentAt),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert communication log %s: %w", l.ID, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return inserted, nil
}

type communicationLogRow struct {
	ID         string `db:"id"`
	CampaignID string `db:"campaign_id"`
	CustomerID string `db:"customer_id"`
	Message    string `db:"message"`
	Status     string `db:"status"`
	SentAt     string `db:"sent_at"`
}

// ListCommunicationLogs returns the delivery logs of a campaign.
func (db *DB) ListCommunicationLogs(ctx context.Context, campaignID string) ([]models.CommunicationLog, error) {
	query, err := db.query("list-communication-logs")
	if err != nil {
		return nil, err
	}

	var rows []communicationLogRow
	if err := db.conn.SelectContext(ctx, &rows, query, campaignID); err != nil {
		return nil, fmt.Errorf("failed to list communication logs: %w", err)
	}

	logs := make([]models.CommunicationLog, 0, len(rows))
	for _, row := range rows {
		sentAt, err := parseTime("sent_at", row.SentAt)
		if err != nil {
			return nil, err
		}
		logs = append(logs, models.CommunicationLog{
			ID:         row.ID,
			CampaignID: row.CampaignID,
			CustomerID: row.CustomerID,
			Message:    row.Message,
			Status:     models.DeliveryStatus(row.Status),
			SentAt:     sentAt,
		})
	}

	return logs, nil
}
