package constants

import "time"

// Reconnection defaults for the realtime client. Delay grows exponentially
// from the base and is capped at the max.
const (
	WSReconnectDelay    = time.Second
	WSReconnectDelayMax = 30 * time.Second
	WSReconnectAttempts = 5
)

// Connection defaults for the realtime client. Read limit and write wait
// mirror what the server side enforces.
const (
	WSPingInterval     = 15 * time.Second
	WSHandshakeTimeout = 10 * time.Second
	WSWriteWait        = 10 * time.Second
	WSClientQueueCap   = 100
	WSMaxMessageSize   = 64 * 1024
)
