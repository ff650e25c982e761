package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const transcriptColumns = "id, video_id, full_text, segments_json, language, confidence, word_count, model, created_at"

func scanTranscript(scanner interface{ Scan(dest ...any) error }) (*Transcript, error) {
	var (
		id         int64
		videoID    string
		fullText   string
		segments   sql.NullString
		language   sql.NullString
		confidence sql.NullFloat64
		wordCount  sql.NullInt64
		model      sql.NullString
		createdRaw sql.NullString
	)
	if err := scanner.Scan(&id, &videoID, &fullText, &segments, &language, &confidence, &wordCount, &model, &createdRaw); err != nil {
		return nil, err
	}

	transcript := &Transcript{
		ID:           id,
		VideoID:      videoID,
		FullText:     fullText,
		SegmentsJSON: segments.String,
		Language:     language.String,
		Confidence:   confidence.Float64,
		WordCount:    int(wordCount.Int64),
		Model:        model.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		transcript.CreatedAt = created
	}
	return transcript, nil
}

// GetTranscript fetches the transcript for a video, or nil when none exists.
func (s *Store) GetTranscript(ctx context.Context, videoID string) (*Transcript, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transcriptColumns+` FROM transcripts WHERE video_id = ?`, videoID)
	transcript, err := scanTranscript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	return transcript, nil
}

// CountTranscripts returns the number of stored transcripts.
func (s *Store) CountTranscripts(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM transcripts`)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count transcripts: %w", err)
	}
	return count, nil
}
