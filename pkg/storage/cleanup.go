package storage

import (
	"time"

	"github.com/rs/zerolog/log"
)

// ArchiveKeyPrefix is where uploaded archives live within a backend.
const ArchiveKeyPrefix = "github-zips"

// Cleanup deletes archives older than maxAge. It is scheduled periodically
// from the entrypoint; a failed delete is logged and skipped so one bad
// object cannot wedge the whole pass.
func Cleanup(b Backend, maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	keys, err := b.ListOlderThan(ArchiveKeyPrefix, cutoff)
	if err != nil {
		log.Error().Err(err).Str("backend", b.Type()).Msg("Failed to list expired archives")
		return
	}

	deleted := 0
	for _, key := range keys {
		if err := b.Delete(key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to delete expired archive")
			continue
		}
		deleted++
	}

	if deleted > 0 || len(keys) > 0 {
		log.Info().Int("deleted", deleted).Int("expired", len(keys)).
			Str("backend", b.Type()).Msg("Storage cleanup pass finished")
	}
}
