package gatekit

import "github.com/oramind/gatekit/id"

// ID is the primary identifier type for all Gatekit entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
