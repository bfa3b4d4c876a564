package canvass

import "github.com/canvasshq/canvass/id"

// ID is the primary identifier type for all canvass entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
