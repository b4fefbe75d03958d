package monitoring

import (
	"github.com/rs/zerolog/log"
)

// Alert logs an operator alert (a paging integration can hook in here).
func Alert(message string, labels map[string]string) {
	log.Error().
		Str("alert", message).
		Fields(labels).
		Msg("ALERT: Provisioning issue detected")
}
