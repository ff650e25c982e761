package queue

import (
	"database/sql"
	"errors"
	"time"
)

const taskColumns = "id, video_id, channel_id, title, source_url, duration_seconds, upload_date, status, attempts, error_message, failure_code, artifact_path, artifact_size_bytes, discovered_at, downloaded_at, transcribed_at, created_at, updated_at, last_heartbeat"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id              int64
		videoID         string
		channelID       sql.NullString
		title           sql.NullString
		sourceURL       sql.NullString
		durationSeconds sql.NullInt64
		uploadDate      sql.NullString
		statusStr       string
		attempts        sql.NullInt64
		errorMessage    sql.NullString
		failureCode     sql.NullString
		artifactPath    sql.NullString
		artifactSize    sql.NullInt64
		discoveredRaw   sql.NullString
		downloadedRaw   sql.NullString
		transcribedRaw  sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		heartbeatRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&videoID,
		&channelID,
		&title,
		&sourceURL,
		&durationSeconds,
		&uploadDate,
		&statusStr,
		&attempts,
		&errorMessage,
		&failureCode,
		&artifactPath,
		&artifactSize,
		&discoveredRaw,
		&downloadedRaw,
		&transcribedRaw,
		&createdRaw,
		&updatedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:                id,
		VideoID:           videoID,
		ChannelID:         channelID.String,
		Title:             title.String,
		SourceURL:         sourceURL.String,
		DurationSeconds:   durationSeconds.Int64,
		UploadDate:        uploadDate.String,
		Status:            Status(statusStr),
		Attempts:          int(attempts.Int64),
		ErrorMessage:      errorMessage.String,
		FailureCode:       failureCode.String,
		ArtifactPath:      artifactPath.String,
		ArtifactSizeBytes: artifactSize.Int64,
	}

	if discovered, err := parseTimeString(discoveredRaw.String); err == nil {
		task.DiscoveredAt = discovered
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		task.UpdatedAt = updated
	}
	if downloadedRaw.Valid {
		if downloaded, err := parseTimeString(downloadedRaw.String); err == nil {
			task.DownloadedAt = &downloaded
		}
	}
	if transcribedRaw.Valid {
		if transcribed, err := parseTimeString(transcribedRaw.String); err == nil {
			task.TranscribedAt = &transcribed
		}
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			task.LastHeartbeat = &heartbeat
		}
	}
	return task, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
