package broker

import "github.com/quantor/scheduler/errors"

var (
	// ErrPublish means the broker rejected or never received a dispatch
	// message. Recoverable: the job row stays pending/retrying and the
	// checker sweep re-attempts the publish.
	ErrPublish = errors.New("broker publish failed")

	// ErrNotConnected means the gateway currently has no usable channel.
	// Publish calls fail fast with this while the reconnect loop works.
	ErrNotConnected = errors.New("broker not connected")
)
