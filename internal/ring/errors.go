package ring

import "errors"

// CodeUnattached is the synthetic engine error code used for responses
// synthesized during teardown, when a request was in flight but the
// connection was disconnected before the engine could reply.
const CodeUnattached int32 = -1000

// ErrUnattached is returned by Submit (and surfaces through blocking
// adapters) once the ring has begun draining.
var ErrUnattached = errors.New("ring: connection unattached")
