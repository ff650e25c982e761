package ytdlp

import "time"

// Config captures runtime settings for yt-dlp operations.
type Config struct {
	// MaxSizeBytes rejects audio larger than this after download. Zero
	// disables the check.
	MaxSizeBytes int64
	// Timeout bounds a single fetch. Zero means no client-side timeout.
	Timeout time.Duration
	// CookiesFile is passed to yt-dlp for age-restricted or members-only
	// content. Optional.
	CookiesFile string
}

// yt-dlp invocation constants. Audio-only MP3 keeps artifacts small while
// remaining accurate enough for transcription.
const (
	Command      = "yt-dlp"
	AudioFormat  = "mp3"
	AudioQuality = "128K"
	FormatSpec   = "bestaudio[ext=m4a]/bestaudio/best"
)

// candidateExtensions lists the extensions yt-dlp may leave behind, in
// preference order, when locating the downloaded file.
var candidateExtensions = []string{".mp3", ".m4a", ".webm", ".wav"}
