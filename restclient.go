package lavago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// RESTClient is a thin typed wrapper over one node's HTTP API, matching
// the teacher's role for Node.Search but generalized to the full v4
// surface and retry policy of spec.md §4.2. No retry/backoff library
// appears anywhere in the retrieved example pack, so the backoff here is
// hand-rolled against the stdlib http.Client rather than reaching for an
// unfounded dependency (see DESIGN.md).
type RESTClient struct {
	cfg    *Config
	http   *http.Client
	logger zerolog.Logger
}

// NewRESTClient builds a client bound to cfg's HTTP endpoint.
func NewRESTClient(cfg *Config, logger zerolog.Logger) *RESTClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{
		cfg: cfg,
		http: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With().Str("component", "rest").Str("node", cfg.identifier()).Logger(),
	}
}

const (
	maxTransientRetries = 3
	max429Retries       = 5
)

// doWithRetry executes build repeatedly per the retry policy: up to
// maxTransientRetries on transport failure or 5xx with exponential
// backoff (1s, 2s, 4s); 429 honors Retry-After and is retried up to
// max429Retries, counted separately so it cannot livelock against the
// transient budget; 404 and 401/403 are terminal.
func (c *RESTClient) doWithRetry(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	transientAttempt := 0
	rateLimitAttempt := 0

	for {
		req, err := build()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", c.cfg.Authorization)
		if c.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", c.cfg.UserAgent)
		}
		req = req.WithContext(ctx)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if transientAttempt >= maxTransientRetries {
				return nil, fmt.Errorf("lavago: request failed after retries: %w", err)
			}
			transientAttempt++
			if !sleepCtx(ctx, backoffDelay(transientAttempt)) {
				return nil, ctx.Err()
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, ErrNotFound
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return nil, ErrUnauthorized
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			if rateLimitAttempt >= max429Retries {
				return nil, fmt.Errorf("lavago: rate limited after %d retries", rateLimitAttempt)
			}
			rateLimitAttempt++
			c.logger.Warn().Dur("retryAfter", retryAfter).Msg("node rate limited request")
			if !sleepCtx(ctx, retryAfter) {
				return nil, ctx.Err()
			}
			continue
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("lavago: node returned %d", resp.StatusCode)
			if transientAttempt >= maxTransientRetries {
				return nil, lastErr
			}
			transientAttempt++
			if !sleepCtx(ctx, backoffDelay(transientAttempt)) {
				return nil, ctx.Err()
			}
			continue
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil
		default:
			resp.Body.Close()
			return nil, fmt.Errorf("lavago: unexpected status %d", resp.StatusCode)
		}
	}
}

func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		d := time.Until(when)
		if d > 0 {
			return d
		}
	}
	return time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *RESTClient) get(ctx context.Context, path string, out interface{}) error {
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, c.cfg.httpEndpoint()+path, nil)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *RESTClient) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequest(method, c.cfg.httpEndpoint()+path, reader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if resp.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// LoadTracks resolves identifier (a URL, or "<prefix>search:query") into
// a LoadResult, normalizing the node's duck-typed "data" field into a
// single sum type at this boundary per the §9 design note.
func (c *RESTClient) LoadTracks(ctx context.Context, identifier string) (*LoadResult, error) {
	var raw loadTracksResponse
	err := c.get(ctx, "/v4/loadtracks?identifier="+url.QueryEscape(identifier), &raw)
	if err != nil {
		return nil, err
	}
	return parseLoadTracksResponse(raw)
}

func parseLoadTracksResponse(raw loadTracksResponse) (*LoadResult, error) {
	switch raw.LoadType {
	case "track":
		var wt wireTrack
		if err := json.Unmarshal(raw.Data, &wt); err != nil {
			return nil, err
		}
		return &LoadResult{Kind: LoadKindTrack, Tracks: []*Track{wt.toTrack()}}, nil
	case "search":
		var wts []wireTrack
		if err := json.Unmarshal(raw.Data, &wts); err != nil {
			return nil, err
		}
		return &LoadResult{Kind: LoadKindSearch, Tracks: wireTracksToTracks(wts)}, nil
	case "playlist":
		var pd playlistData
		if err := json.Unmarshal(raw.Data, &pd); err != nil {
			return nil, err
		}
		return &LoadResult{
			Kind:         LoadKindPlaylist,
			Tracks:       wireTracksToTracks(pd.Tracks),
			PlaylistName: pd.Info.Name,
		}, nil
	case "empty":
		return &LoadResult{Kind: LoadKindEmpty}, nil
	case "error":
		var ed errorData
		_ = json.Unmarshal(raw.Data, &ed)
		return &LoadResult{Kind: LoadKindError, ErrorMessage: ed.Message}, ErrTrackLoadFailed
	default:
		return nil, fmt.Errorf("lavago: unknown loadType %q", raw.LoadType)
	}
}

func wireTracksToTracks(wts []wireTrack) []*Track {
	out := make([]*Track, len(wts))
	for i := range wts {
		out[i] = wts[i].toTrack()
	}
	return out
}

// UpdatePlayerPatch describes a partial update to send to a node's
// player. Nil pointer fields are left untouched server-side.
type UpdatePlayerPatch struct {
	EncodedTrack *string
	PositionMs   *int64
	EndTimeMs    *int64
	Volume       *int
	Paused       *bool
	Filters      map[string]interface{}
	Voice        *VoiceCredential
	NoReplace    bool
}

// UpdatePlayer issues PATCH /v4/sessions/{sessionId}/players/{guildId}.
func (c *RESTClient) UpdatePlayer(ctx context.Context, sessionID, guildID string, patch UpdatePlayerPatch) (*PlayerSnapshotWire, error) {
	if sessionID == "" {
		return nil, errors.New("lavago: no sessionId; node has not sent ready")
	}
	body := updatePlayerPatch{
		Position: patch.PositionMs,
		EndTime:  patch.EndTimeMs,
		Volume:   patch.Volume,
		Paused:   patch.Paused,
		Filters:  patch.Filters,
	}
	if patch.EncodedTrack != nil {
		body.Track = &trackPatch{Encoded: patch.EncodedTrack}
	}
	if patch.Voice != nil {
		body.Voice = &voicePatch{
			Token:     patch.Voice.Token,
			Endpoint:  patch.Voice.Endpoint,
			SessionID: patch.Voice.SessionID,
		}
	}
	path := fmt.Sprintf("/v4/sessions/%s/players/%s", url.PathEscape(sessionID), url.PathEscape(guildID))
	if patch.NoReplace {
		path += "?noReplace=true"
	}
	var resp playerResponse
	if err := c.doJSON(ctx, http.MethodPatch, path, body, &resp); err != nil {
		return nil, err
	}
	return playerResponseToSnapshot(resp), nil
}

// PlayerSnapshotWire is the normalized response from updatePlayer.
type PlayerSnapshotWire struct {
	GuildID  string
	Track    *Track
	Volume   int
	Paused   bool
	Filters  map[string]interface{}
	PosMs    int64
	Connected bool
	PingMs   int64
}

func playerResponseToSnapshot(r playerResponse) *PlayerSnapshotWire {
	return &PlayerSnapshotWire{
		GuildID:   r.GuildID,
		Track:     r.Track.toTrack(),
		Volume:    r.Volume,
		Paused:    r.Paused,
		Filters:   r.Filters,
		PosMs:     r.State.Position,
		Connected: r.State.Connected,
		PingMs:    r.State.Ping,
	}
}

// DestroyPlayer issues DELETE .../players/{guildId}; a 404 is treated as
// success since the desired end state (no player) already holds.
func (c *RESTClient) DestroyPlayer(ctx context.Context, sessionID, guildID string) error {
	if sessionID == "" {
		return errors.New("lavago: no sessionId; node has not sent ready")
	}
	path := fmt.Sprintf("/v4/sessions/%s/players/%s", url.PathEscape(sessionID), url.PathEscape(guildID))
	err := c.doJSON(ctx, http.MethodDelete, path, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// GetInfo issues GET /v4/info.
func (c *RESTClient) GetInfo(ctx context.Context) (*nodeInfoResponse, error) {
	var info nodeInfoResponse
	if err := c.get(ctx, "/v4/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetStats issues GET /v4/stats.
func (c *RESTClient) GetStats(ctx context.Context) (NodeStats, error) {
	var raw statsPayload
	if err := c.get(ctx, "/v4/stats", &raw); err != nil {
		return NodeStats{}, err
	}
	return statsFromPayload(raw), nil
}

// DecodeTrack issues GET /v4/decodetrack?encodedTrack=....
func (c *RESTClient) DecodeTrack(ctx context.Context, encoded string) (*Track, error) {
	var wt wireTrack
	if err := c.get(ctx, "/v4/decodetrack?encodedTrack="+url.QueryEscape(encoded), &wt); err != nil {
		return nil, err
	}
	return wt.toTrack(), nil
}

// DecodeTracks issues POST /v4/decodetracks.
func (c *RESTClient) DecodeTracks(ctx context.Context, encoded []string) ([]*Track, error) {
	var wts []wireTrack
	if err := c.doJSON(ctx, http.MethodPost, "/v4/decodetracks", encoded, &wts); err != nil {
		return nil, err
	}
	return wireTracksToTracks(wts), nil
}

// Version issues GET /version, returning the raw body.
func (c *RESTClient) Version(ctx context.Context) (string, error) {
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, c.cfg.httpEndpoint()+"/version", nil)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(data)), nil
}
