package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const channelColumns = "id, channel_id, name, url, active, last_checked, created_at"

func scanChannel(scanner interface{ Scan(dest ...any) error }) (*Channel, error) {
	var (
		id          int64
		channelID   string
		name        sql.NullString
		url         string
		active      sql.NullInt64
		lastChecked sql.NullString
		createdRaw  sql.NullString
	)
	if err := scanner.Scan(&id, &channelID, &name, &url, &active, &lastChecked, &createdRaw); err != nil {
		return nil, err
	}

	channel := &Channel{
		ID:        id,
		ChannelID: channelID,
		Name:      name.String,
		URL:       url,
		Active:    active.Int64 != 0,
	}
	if lastChecked.Valid {
		if checked, err := parseTimeString(lastChecked.String); err == nil {
			channel.LastChecked = &checked
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		channel.CreatedAt = created
	}
	return channel, nil
}

// AddChannel registers a channel subscription. Re-adding an existing channel
// updates its name and URL and reactivates it.
func (s *Store) AddChannel(ctx context.Context, channelID, name, url string) (*Channel, error) {
	if channelID == "" {
		return nil, errors.New("channel id is required")
	}
	if url == "" {
		return nil, errors.New("channel url is required")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO channels (channel_id, name, url, active, created_at)
         VALUES (?, ?, ?, 1, ?)
         ON CONFLICT(channel_id) DO UPDATE SET
             name = excluded.name,
             url = excluded.url,
             active = 1`,
		channelID,
		nullableString(name),
		url,
		now,
	); err != nil {
		return nil, fmt.Errorf("add channel: %w", err)
	}
	return s.GetChannel(ctx, channelID)
}

// GetChannel fetches a channel subscription by its channel identifier.
func (s *Store) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE channel_id = ?`, channelID)
	channel, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return channel, nil
}

// ListChannels returns all channel subscriptions, or only active ones when
// activeOnly is set.
func (s *Store) ListChannels(ctx context.Context, activeOnly bool) ([]*Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	return channels, rows.Err()
}

// SetChannelActive toggles whether a channel is polled during discovery.
func (s *Store) SetChannelActive(ctx context.Context, channelID string, active bool) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE channels SET active = ? WHERE channel_id = ?`,
		boolToInt(active),
		channelID,
	)
	if err != nil {
		return false, fmt.Errorf("set channel active: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// TouchChannelChecked records a completed discovery pass for a channel.
func (s *Store) TouchChannelChecked(ctx context.Context, channelID string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE channels SET last_checked = ? WHERE channel_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		channelID,
	); err != nil {
		return fmt.Errorf("touch channel: %w", err)
	}
	return nil
}

// RemoveChannel deletes a channel subscription. Tasks already admitted for the
// channel are untouched.
func (s *Store) RemoveChannel(ctx context.Context, channelID string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM channels WHERE channel_id = ?`, channelID)
	if err != nil {
		return false, fmt.Errorf("remove channel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
