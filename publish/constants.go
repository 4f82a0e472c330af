package publish

import "time"

// Target flags; a target receives a message when it has all of its flags.
const (
	FlagPosition  = 1
	FlagJSON      = 2
	FlagAggregate = 4
)

const (
	tcpQueueLen     = 1000
	tcpDialTimeout  = 2 * time.Second
	tcpWriteTimeout = 5 * time.Second
	tcpRetryDelay   = 500 * time.Millisecond

	mqttConnectTimeout = 5 * time.Second
)
