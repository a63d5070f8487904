package lavago

import "errors"

// Sentinel errors returned by the orchestrator-facing API: caller errors,
// missing resources and node responses. A node's REST error during a
// Player command is returned to the caller of that command; it is not
// turned into an event.
var (
	// ErrNoNodeAvailable is returned when no connected node can host a new player.
	ErrNoNodeAvailable = errors.New("lavago: no node available")
	// ErrPlayerNotFound is returned for operations against an unknown guild.
	ErrPlayerNotFound = errors.New("lavago: player not found")
	// ErrNotFound maps a worker's HTTP 404 for resource lookups such as
	// decode; DestroyPlayer treats a 404 as success.
	ErrNotFound = errors.New("lavago: resource not found on node")
	// ErrVoiceLost is returned when the voice channel is cleared (channel
	// set to nil) while a play waits for the voice credential.
	ErrVoiceLost = errors.New("lavago: voice session lost before play could proceed")
	// ErrTrackLoadFailed is returned when a node's loadTracks call reports loadType=error.
	ErrTrackLoadFailed = errors.New("lavago: track failed to load")
	// ErrInvalidArgument covers out-of-range indices and volumes outside
	// 0-1000. Loop modes are not validated: SetLoop accepts any value.
	ErrInvalidArgument = errors.New("lavago: invalid argument")
	// ErrPlayerDestroyed is returned by any command issued to a destroyed player.
	ErrPlayerDestroyed = errors.New("lavago: player is destroyed")
	// ErrNoEncodedTrack is returned when a placeholder (pre-resolution) track is played.
	ErrNoEncodedTrack = errors.New("lavago: track has no encoded payload")
	// ErrUnauthorized maps a worker's HTTP 401/403.
	ErrUnauthorized = errors.New("lavago: node rejected credentials")
	// ErrCredentialTimeout is returned when the voice credential does not
	// arrive within the bounded wait during play().
	ErrCredentialTimeout = errors.New("lavago: timed out waiting for voice credential")
	// ErrQueueFull is returned when a queue is at its configured capacity.
	ErrQueueFull = errors.New("lavago: queue is full")
	// ErrBackpressure names a saturated per-player command queue. No
	// function in this package returns it: Player runs each command
	// directly on the caller's goroutine, without a queue.
	ErrBackpressure = errors.New("lavago: player command queue is full")
)
