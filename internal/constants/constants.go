package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
)

// Backoff defaults for the delivery layer. Transport send failures and
// service-level outages back off from different floors: a service outage
// self-heals slower than a transient send.
const (
	BackoffBase       = 1 * time.Second
	QueueSendBackoff  = 2 * time.Second
	BusSendBackoff    = 2 * time.Second
	BusServiceBackoff = 5 * time.Second
	BackoffMax        = 300 * time.Second
	BackoffMultiplier = 2.0
)

const (
	CacheKeyPrefixDedup = "dedup:"
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	DefaultInputTopic      = "inbound_messages"
	DefaultDeadLetterTopic = "dead_letter"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Destination naming bounds. Queue destinations follow strict lower-case
// alphanumeric/hyphen rules; bus entities allow path-like names.
const (
	QueueNameMaxLength = 249
	BusNameMaxLength   = 260
)
