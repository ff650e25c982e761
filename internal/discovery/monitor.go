package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"github.com/mmcdole/gofeed"

	"scribed/internal/config"
	"scribed/internal/logging"
	"scribed/internal/queue"
)

// FeedURL returns the RSS feed endpoint for a channel. No API key needed.
func FeedURL(channelID string) string {
	return "https://www.youtube.com/feeds/videos.xml?channel_id=" + url.QueryEscape(channelID)
}

// WatchURL returns the canonical watch page for a video.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(videoID)
}

// Monitor polls channel feeds and admits new videos as pending tasks.
type Monitor struct {
	cfg       *config.Config
	store     *queue.Store
	logger    *slog.Logger
	fetchFeed func(ctx context.Context, feedURL string) (*gofeed.Feed, error)
}

// NewMonitor builds a feed monitor over the task store.
func NewMonitor(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Monitor {
	parser := gofeed.NewParser()
	m := &Monitor{
		cfg:   cfg,
		store: store,
		fetchFeed: func(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
			ctx, cancel := context.WithTimeout(ctx, cfg.FeedTimeout())
			defer cancel()
			return parser.ParseURLWithContext(feedURL, ctx)
		},
	}
	m.SetLogger(logger)
	return m
}

// SetLogger refreshes the monitor's logging destination.
func (m *Monitor) SetLogger(logger *slog.Logger) {
	m.logger = logging.NewComponentLogger(logger, "discovery")
}

// WithFeedFetcher sets a custom feed fetcher (for testing).
func (m *Monitor) WithFeedFetcher(fetch func(ctx context.Context, feedURL string) (*gofeed.Feed, error)) {
	m.fetchFeed = fetch
}

// CheckAll polls every active channel once. A failing channel is logged and
// skipped; the pass continues. Returns the number of newly admitted tasks.
func (m *Monitor) CheckAll(ctx context.Context) (int, error) {
	channels, err := m.store.ListChannels(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("discovery: list channels: %w", err)
	}

	admitted := 0
	for _, channel := range channels {
		if ctx.Err() != nil {
			return admitted, ctx.Err()
		}
		count, err := m.CheckChannel(ctx, channel)
		if err != nil {
			m.logger.WarnContext(ctx, "channel check failed",
				logging.String(logging.FieldChannel, channel.ChannelID),
				logging.Error(err))
			continue
		}
		admitted += count
	}
	return admitted, nil
}

// CheckChannel polls one channel's feed and admits unseen videos.
func (m *Monitor) CheckChannel(ctx context.Context, channel *queue.Channel) (int, error) {
	feedURL := channel.URL
	if feedURL == "" || !strings.Contains(feedURL, "feeds/videos.xml") {
		feedURL = FeedURL(channel.ChannelID)
	}

	feed, err := m.fetchFeed(ctx, feedURL)
	if err != nil {
		return 0, fmt.Errorf("fetch feed: %w", err)
	}

	admitted := 0
	for _, item := range feed.Items {
		videoID := extractVideoID(item)
		if videoID == "" {
			continue
		}
		cand := queue.Candidate{
			VideoID:   videoID,
			ChannelID: channel.ChannelID,
			Title:     strings.TrimSpace(item.Title),
			SourceURL: WatchURL(videoID),
		}
		if item.PublishedParsed != nil {
			cand.DiscoveredAt = item.PublishedParsed.UTC()
			cand.UploadDate = item.PublishedParsed.UTC().Format("20060102")
		}
		task, isNew, err := m.store.AdmitTask(ctx, cand)
		if err != nil {
			m.logger.WarnContext(ctx, "admission failed",
				logging.String(logging.FieldVideoID, videoID),
				logging.Error(err))
			continue
		}
		if isNew {
			admitted++
			m.logger.InfoContext(ctx, "admitted video",
				logging.Int64(logging.FieldTaskID, task.ID),
				logging.String(logging.FieldVideoID, videoID),
				logging.String(logging.FieldChannel, channel.ChannelID),
				logging.String("title", cand.Title))
		}
	}

	if err := m.store.TouchChannelChecked(ctx, channel.ChannelID); err != nil {
		m.logger.WarnContext(ctx, "channel timestamp update failed",
			logging.String(logging.FieldChannel, channel.ChannelID),
			logging.Error(err))
	}
	return admitted, nil
}

// StartLoop polls all channels on the configured interval until the context
// is canceled. The first pass runs immediately.
func (m *Monitor) StartLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval())
	defer ticker.Stop()

	for {
		if count, err := m.CheckAll(ctx); err != nil && ctx.Err() == nil {
			m.logger.WarnContext(ctx, "discovery pass failed", logging.Error(err))
		} else if count > 0 {
			m.logger.InfoContext(ctx, "discovery pass complete", logging.Int("admitted", count))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// extractVideoID pulls the video identifier from a feed entry. YouTube feeds
// carry it in the yt:videoId extension; fall back to the guid or the watch
// link's query parameter.
func extractVideoID(item *gofeed.Item) string {
	if item == nil {
		return ""
	}
	if ext, ok := item.Extensions["yt"]; ok {
		if ids, ok := ext["videoId"]; ok && len(ids) > 0 {
			if id := strings.TrimSpace(ids[0].Value); id != "" {
				return id
			}
		}
	}
	if strings.HasPrefix(item.GUID, "yt:video:") {
		return strings.TrimPrefix(item.GUID, "yt:video:")
	}
	if item.Link != "" {
		if parsed, err := url.Parse(item.Link); err == nil {
			if id := parsed.Query().Get("v"); id != "" {
				return id
			}
		}
	}
	return ""
}
