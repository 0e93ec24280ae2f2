package protocol

// Size limits applied while decoding client messages.
const (
	// MaxMessageSize is the largest encoded message Decode accepts (1MB).
	// Transports usually enforce a smaller per-connection limit first.
	MaxMessageSize = 1 << 20

	// MaxEventNameLength bounds the qualified event name.
	MaxEventNameLength = 256

	// MaxBatchSize is the maximum number of messages in one batch.
	MaxBatchSize = 1024
)
