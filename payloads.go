package lavago

import "encoding/json"

// This file holds the wire-level JSON shapes exchanged with a worker
// node's v4 WebSocket and REST surface. None of these are exported; the
// rest of the package translates to/from the public Track/Player/NodeStats
// types at the boundary (per the §9 design note: normalize duck-typed
// wire shapes into one sum type at the edge, not throughout the codebase).

// basePayload is enough to route any inbound WS frame by op.
type basePayload struct {
	Op      string `json:"op"`
	GuildID string `json:"guildId,omitempty"`
}

// readyPayload is sent once after the WS handshake completes; its
// sessionId must be captured before any REST player operation is valid.
type readyPayload struct {
	Op        string `json:"op"`
	Resumed   bool   `json:"resumed"`
	SessionID string `json:"sessionId"`
}

type cpuStatsPayload struct {
	Cores          int     `json:"cores"`
	SystemLoad     float64 `json:"systemLoad"`
	LavalinkLoad   float64 `json:"lavalinkLoad"`
}

type memoryStatsPayload struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

type frameStatsPayload struct {
	Sent    int `json:"sent"`
	Nulled  int `json:"nulled"`
	Deficit int `json:"deficit"`
}

// statsPayload is the node's periodic load snapshot.
type statsPayload struct {
	Op             string              `json:"op"`
	Players        int                 `json:"players"`
	PlayingPlayers int                 `json:"playingPlayers"`
	Uptime         int64               `json:"uptime"`
	Memory         memoryStatsPayload  `json:"memory"`
	CPU            cpuStatsPayload     `json:"cpu"`
	FrameStats     *frameStatsPayload  `json:"frameStats,omitempty"`
}

type playerStateSnapshot struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
	Ping      int64 `json:"ping"`
}

// playerUpdatePayload reports per-guild position/connected state.
type playerUpdatePayload struct {
	Op      string              `json:"op"`
	GuildID string              `json:"guildId"`
	State   playerStateSnapshot `json:"state"`
}

// eventPayload is the envelope for every track-lifecycle/voice event;
// Type discriminates which of the fields below are populated.
type eventPayload struct {
	Op          string        `json:"op"`
	Type        string        `json:"type"`
	GuildID     string        `json:"guildId"`
	Track       *wireTrack    `json:"track,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Exception   *wireException `json:"exception,omitempty"`
	ThresholdMs int64         `json:"thresholdMs,omitempty"`
	Code        int           `json:"code,omitempty"`
	ByRemote    bool          `json:"byRemote,omitempty"`
}

type wireException struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

const (
	wireTrackStartEvent      = "TrackStartEvent"
	wireTrackEndEvent        = "TrackEndEvent"
	wireTrackExceptionEvent  = "TrackExceptionEvent"
	wireTrackStuckEvent      = "TrackStuckEvent"
	wireWebSocketClosedEvent = "WebSocketClosedEvent"
)

// wireTrack is a node's encoded-track representation, both in REST
// loadtracks/decodetrack responses and in WS event payloads.
type wireTrack struct {
	Encoded string        `json:"encoded"`
	Info    wireTrackInfo `json:"info"`
}

type wireTrackInfo struct {
	Identifier string `json:"identifier"`
	IsSeekable bool   `json:"isSeekable"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	IsStream   bool   `json:"isStream"`
	Position   int64  `json:"position"`
	Title      string `json:"title"`
	URI        string `json:"uri"`
	SourceName string `json:"sourceName"`
	ArtworkURL string `json:"artworkUrl"`
	ISRC       string `json:"isrc"`
}

func (w *wireTrack) toTrack() *Track {
	if w == nil {
		return nil
	}
	return &Track{
		ID:         newID(),
		Encoded:    w.Encoded,
		Title:      w.Info.Title,
		Author:     w.Info.Author,
		URI:        w.Info.URI,
		Identifier: w.Info.Identifier,
		DurationMs: w.Info.Length,
		IsSeekable: w.Info.IsSeekable,
		IsStream:   w.Info.IsStream,
		Source:     w.Info.SourceName,
		ISRC:       w.Info.ISRC,
		ArtworkURI: w.Info.ArtworkURL,
	}
}

// loadTracksResponse is GET /v4/loadtracks's envelope; Data's shape
// depends on LoadType and is decoded lazily by parseLoadTracksResponse
// (restclient.go).
type loadTracksResponse struct {
	LoadType string          `json:"loadType"`
	Data     json.RawMessage `json:"data"`
}

type playlistData struct {
	Info struct {
		Name          string `json:"name"`
		SelectedTrack int    `json:"selectedTrack"`
	} `json:"info"`
	Tracks []wireTrack `json:"tracks"`
}

type errorData struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

// voicePatch is the voice credential block of an updatePlayer request.
type voicePatch struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

type trackPatch struct {
	Encoded *string `json:"encoded"`
}

// updatePlayerPatch is the PATCH body for
// /v4/sessions/{sessionId}/players/{guildId}. Pointer fields are omitted
// from the request when nil so a partial patch (e.g. volume-only) does
// not clobber unrelated player state.
type updatePlayerPatch struct {
	Track    *trackPatch            `json:"track,omitempty"`
	Position *int64                 `json:"position,omitempty"`
	EndTime  *int64                 `json:"endTime,omitempty"`
	Volume   *int                   `json:"volume,omitempty"`
	Paused   *bool                  `json:"paused,omitempty"`
	Filters  map[string]interface{} `json:"filters,omitempty"`
	Voice    *voicePatch            `json:"voice,omitempty"`
}

// playerResponse is returned by updatePlayer and GET players endpoints.
type playerResponse struct {
	GuildID string                 `json:"guildId"`
	Track   *wireTrack             `json:"track"`
	Volume  int                    `json:"volume"`
	Paused  bool                   `json:"paused"`
	Filters map[string]interface{} `json:"filters"`
	State   playerStateSnapshot    `json:"state"`
}

// nodeInfoResponse is GET /v4/info, trimmed to the fields the core uses.
type nodeInfoResponse struct {
	Version struct {
		Semver string `json:"semver"`
	} `json:"version"`
	SourceManagers []string `json:"sourceManagers"`
	Filters        []string `json:"filters"`
}
