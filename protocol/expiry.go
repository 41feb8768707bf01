package protocol

import "time"

// Default TTLs by message category. Audit-style events live longer than
// live progress.
var defaultTTLs = map[string]time.Duration{
	TypeActionAttempt: 5 * time.Minute,
	TypeDeviceStatus:  90 * time.Second,

	TypeOrderStepFinished:  30 * time.Minute,
	TypeProductionReported: 30 * time.Minute,
	TypeProductionCount:    30 * time.Minute,
	TypeSessionOpened:      30 * time.Minute,
	TypeSessionClosed:      30 * time.Minute,

	TypeOrderCreated:       60 * time.Minute,
	TypeOrderStatusChanged: 60 * time.Minute,
}

// FallbackTTL is used when no specific TTL is configured.
const FallbackTTL = 10 * time.Minute

// DefaultTTLFor returns the default TTL for a message type.
func DefaultTTLFor(msgType string) time.Duration {
	if ttl, ok := defaultTTLs[msgType]; ok {
		return ttl
	}
	return FallbackTTL
}

// IsExpired returns true if the envelope has passed its expiry time.
func IsExpired(env *Envelope) bool {
	return expired(env.ExpiresAt)
}

// IsExpiredHeader checks expiry using only the raw header.
func IsExpiredHeader(hdr *RawHeader) bool {
	return expired(hdr.ExpiresAt)
}

func expired(at time.Time) bool {
	if at.IsZero() {
		return false
	}
	return time.Now().UTC().After(at)
}
