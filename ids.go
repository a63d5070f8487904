package lavago

import "github.com/google/uuid"

// newID generates a locally unique identifier for a Track. Nodes without
// an explicit identifier use "host:port" instead (Config.identifier).
func newID() string {
	return uuid.NewString()
}
