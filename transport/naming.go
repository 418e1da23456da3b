package transport

import (
	"strings"

	"github.com/drblury/rtpsbridge/internal/runtime/ids"
)

// SubscriptionName returns a name unique to this process and participant,
// used where a broker needs a consumer group or queue per subscriber so
// every participant receives every sample.
func SubscriptionName(cfg Config) string {
	name := "participant"
	if cfg != nil && cfg.GetParticipantName() != "" {
		name = cfg.GetParticipantName()
	}
	return "rtps-" + SanitizeName(name) + "-" + strings.ToLower(ids.CreateULID())
}

// SanitizeName keeps ASCII letters, digits, '-' and '_' and replaces
// everything else with '_'. Broker subject and queue names are restricted
// in different ways; this is the common subset.
func SanitizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
