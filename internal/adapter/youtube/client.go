package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	innertube "github.com/kkdai/youtube/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"tubesearch/apps/backend/internal/transcript"
)

const PageSize = 50

// DefaultLanguages is the caption track preference order.
var DefaultLanguages = []string{"ko", "en"}

var (
	bareID = regexp.MustCompile(`^[0-9A-Za-z_-]{11}$`)
	refID  = regexp.MustCompile(`(?:v=|/)([0-9A-Za-z_-]{11})`)
)

// ParseVideoID accepts an 11-character video ID or any watch, short or embed
// URL that carries one.
func ParseVideoID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if bareID.MatchString(ref) {
		return ref, nil
	}
	if m := refID.FindStringSubmatch(ref); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("%w: not a video reference: %q", transcript.ErrInvalidArgument, ref)
}

type Client struct {
	service   *yt.Service
	http      *http.Client
	languages []string
}

type Option func(*Client)

func WithLanguages(langs ...string) Option {
	return func(c *Client) { c.languages = langs }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient builds a Data API client. Extra client options (endpoint
// overrides in tests) are passed through to the generated service.
func NewClient(ctx context.Context, apiKey string, apiOpts []option.ClientOption, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("youtube api key not configured")
	}
	svc, err := yt.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, apiOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}

	c := &Client{
		service:   svc,
		http:      &http.Client{Timeout: 30 * time.Second},
		languages: DefaultLanguages,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) ListChannelVideos(ctx context.Context, channelID, pageToken string) (*transcript.VideoPage, error) {
	if strings.TrimSpace(channelID) == "" {
		return nil, fmt.Errorf("%w: empty channel id", transcript.ErrInvalidArgument)
	}

	call := c.service.Search.List([]string{"id"}).
		ChannelId(channelID).
		Type("video").
		Order("date").
		MaxResults(PageSize).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: channel %s", transcript.ErrNotFound, channelID)
		}
		return nil, fmt.Errorf("youtube search failed: %w", err)
	}

	page := &transcript.VideoPage{NextPageToken: resp.NextPageToken}
	for _, item := range resp.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			page.VideoIDs = append(page.VideoIDs, item.Id.VideoId)
		}
	}
	return page, nil
}

// FetchTranscript returns the caption text of the first available track in
// language preference order, segments joined by single spaces. A video with
// no track in any preferred language is ErrNotFound; transport failures are
// returned as is so the caller can retry.
func (c *Client) FetchTranscript(ctx context.Context, videoRef string) (string, error) {
	id, err := ParseVideoID(videoRef)
	if err != nil {
		return "", err
	}

	// innertube.Client keeps visitor state without locking.
	tc := &innertube.Client{HTTPClient: c.http}
	video := &innertube.Video{ID: id}

	var lastErr error
	for _, lang := range c.languages {
		segments, err := tc.GetTranscriptCtx(ctx, video, lang)
		if err == nil {
			if text := joinSegments(segments); text != "" {
				return text, nil
			}
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		slog.DebugContext(ctx, "caption track unavailable", "video_id", id, "lang", lang, "error", err)
		if !missingTrack(err) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("youtube transcript fetch failed for %s: %w", id, lastErr)
	}
	return "", fmt.Errorf("%w: no transcript for %s", transcript.ErrNotFound, id)
}

// missingTrack reports errors that mean the track does not exist, as opposed
// to the request failing.
func missingTrack(err error) bool {
	if errors.Is(err, innertube.ErrTranscriptDisabled) {
		return true
	}
	var status innertube.ErrUnexpectedStatusCode
	if errors.As(err, &status) {
		return int(status) >= 400 && int(status) < 500 && int(status) != http.StatusTooManyRequests
	}
	return false
}

func joinSegments(segments innertube.VideoTranscript) string {
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(strings.ReplaceAll(seg.Text, "\n", " ")); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, " ")
}
