package txcache

import (
	"fmt"

	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/pkg/common/logger"
)

// CopyTo merges every record of c into dst and returns how many entries were written.
// An entry already in dst is only replaced by a newer one, so copying twice is a no-op.
// Records are decoded with c's codec and re-encoded with dst's, which allows moving a
// cache between stores and codecs. With dryRun nothing is written.
func (c *Cache) CopyTo(dst *Cache, dryRun bool) (int, error) {
	sources, err := c.Sources()
	if err != nil {
		return 0, err
	}

	copied := 0
	for _, s := range sources {
		source, err := domain.ParseAddress(s)
		if err != nil {
			logger.Warn("Skipping cache record with malformed source", "source", s, "err", err)
			continue
		}
		rec, err := c.load(source)
		if err != nil {
			return copied, fmt.Errorf("read %s: %w", s, err)
		}
		if dryRun {
			copied += len(rec.Entries)
			continue
		}

		written := 0
		err = dst.modify(source, func(target *Record) (bool, error) {
			for recipient, entry := range rec.Entries {
				if existing, ok := target.Entries[recipient]; ok && !entry.CreatedAt.After(existing.CreatedAt) {
					continue
				}
				target.Entries[recipient] = entry
				written++
			}
			return written > 0, nil
		})
		if err != nil {
			return copied, fmt.Errorf("write %s: %w", s, err)
		}
		logger.Debug("Cache record copied", "source", s, "entries", written)
		copied += written
	}
	return copied, nil
}
