package main

import (
	"fmt"
	"time"

	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/internal/txcache"
	"github.com/fystack/eth-disburser/pkg/common/config"
	"github.com/fystack/eth-disburser/pkg/common/logger"
	"github.com/fystack/eth-disburser/pkg/infra"
	"github.com/fystack/eth-disburser/pkg/kvstore"
)

type CacheCmd struct {
	List    CacheListCmd    `cmd:"" help:"List cached transactions of one or every source wallet."`
	Prune   CachePruneCmd   `cmd:"" help:"Drop confirmed entries older than the retention."`
	Migrate CacheMigrateCmd `cmd:"" help:"Copy the cache into another store described by a cache YAML file."`
}

type CacheListCmd struct {
	ConfigFlags
	Source string `help:"Source wallet address. Lists every source when empty." name:"source"`
}

type sourceEntries struct {
	Source  string           `json:"source"`
	Entries []*txcache.Entry `json:"entries"`
}

func (c *CacheListCmd) Run() error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	cache, closeStore, err := openCache(cfg.Cache)
	if err != nil {
		return err
	}
	defer closeStore()

	sources := []string{c.Source}
	if c.Source == "" {
		if sources, err = cache.Sources(); err != nil {
			return err
		}
	}

	out := make([]sourceEntries, 0, len(sources))
	for _, s := range sources {
		addr, err := domain.ParseAddress(s)
		if err != nil {
			return err
		}
		entries, err := cache.List(addr)
		if err != nil {
			return fmt.Errorf("list %s: %w", s, err)
		}
		out = append(out, sourceEntries{Source: addr.String(), Entries: entries})
	}
	return printJSON(out)
}

type CachePruneCmd struct {
	ConfigFlags
	Retention time.Duration `help:"Keep confirmed entries younger than this. Defaults to cache.retention." name:"retention"`
}

func (c *CachePruneCmd) Run() error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	retention := c.Retention
	if retention == 0 {
		retention = cfg.Cache.Retention
	}
	if retention <= 0 {
		return fmt.Errorf("no retention given and cache.retention is not set")
	}

	cache, closeStore, err := openCache(cfg.Cache)
	if err != nil {
		return err
	}
	defer closeStore()

	removed, err := cache.Prune(time.Now(), retention)
	if err != nil {
		return err
	}
	logger.Info("Cache pruned", "removed", removed, "retention", retention)
	return printJSON(map[string]int{"removed": removed})
}

type CacheMigrateCmd struct {
	ConfigFlags
	Destination string `help:"YAML file holding the target cache section." name:"destination" required:"" type:"existingfile"`
	DryRun      bool   `help:"Count the entries that would be copied without writing." name:"dry-run"`
}

func (c *CacheMigrateCmd) Run() error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	target, err := config.LoadCacheConfig(c.Destination)
	if err != nil {
		return fmt.Errorf("load destination: %w", err)
	}

	src, closeSrc, err := openCache(cfg.Cache)
	if err != nil {
		return err
	}
	defer closeSrc()
	dst, closeDst, err := openCache(target)
	if err != nil {
		return err
	}
	defer closeDst()

	started := time.Now()
	copied, err := src.CopyTo(dst, c.DryRun)
	if err != nil {
		return err
	}
	logger.Info("Cache migrated",
		"from", cfg.Cache.Type,
		"to", target.Type,
		"entries", copied,
		"dry_run", c.DryRun,
		"took", time.Since(started).Round(time.Millisecond),
	)
	return printJSON(map[string]any{"copied": copied, "dry_run": c.DryRun})
}

// openCache opens the store without a receipt poller: listing and pruning never query the node.
func openCache(cfg config.CacheConfig) (*txcache.Cache, func(), error) {
	codec, err := infra.CodecByName(cfg.Codec)
	if err != nil {
		return nil, nil, err
	}
	store, err := kvstore.NewFromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache store: %w", err)
	}
	return txcache.New(store, codec, nil), func() { _ = store.Close() }, nil
}
