package contracts

// ProtocolVersion is the AATP wire version this router speaks.
const ProtocolVersion = "1.0.0"

// Header names used on the wire.
const (
	HeaderAPIKey        = "X-API-Key"
	HeaderSignature     = "X-Agent-Signature"
	HeaderAgentID       = "X-Agent-ID"
	HeaderVersion       = "X-AATP-Version"
	HeaderTransactionID = "X-Transaction-ID"
	HeaderConsumerID    = "X-Consumer-Agent-ID"
	HeaderRequestID     = "X-Request-ID"
)
