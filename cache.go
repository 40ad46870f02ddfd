// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "github.com/goburrow/cache"

// Bounded in-memory caches kept per-Archive. Sizes are generous but fixed:
// archives with more distinct hot files than this just pay the recompute
// cost on a cache miss rather than growing unbounded.
const (
	sectorTableCacheSize = 4096
	fileKeyCacheSize     = 4096
)

// archiveCaches bundles the per-Archive memoization tables described in
// SPEC_FULL.md §3. They are plain bounded caches, not loading caches,
// because the value computed on a miss depends on call-site state (the
// block entry, the sector size) that a cache.Loader closure can't see
// without capturing the whole Archive.
type archiveCaches struct {
	sectorOffsets cache.Cache // blockIndex uint32 -> []uint32
	fileKeys      cache.Cache // blockIndex uint32 -> uint32
}

func newArchiveCaches() *archiveCaches {
	return &archiveCaches{
		sectorOffsets: cache.New(cache.WithMaximumSize(sectorTableCacheSize)),
		fileKeys:      cache.New(cache.WithMaximumSize(fileKeyCacheSize)),
	}
}

func (c *archiveCaches) sectorOffsetTable(blockIndex uint32) ([]uint32, bool) {
	v, ok := c.sectorOffsets.GetIfPresent(blockIndex)
	if !ok {
		return nil, false
	}
	return v.([]uint32), true
}

func (c *archiveCaches) putSectorOffsetTable(blockIndex uint32, table []uint32) {
	c.sectorOffsets.Put(blockIndex, table)
}

func (c *archiveCaches) fileKey(blockIndex uint32) (uint32, bool) {
	v, ok := c.fileKeys.GetIfPresent(blockIndex)
	if !ok {
		return 0, false
	}
	return v.(uint32), true
}

func (c *archiveCaches) putFileKey(blockIndex uint32, key uint32) {
	c.fileKeys.Put(blockIndex, key)
}

func (c *archiveCaches) invalidate(blockIndex uint32) {
	c.sectorOffsets.Invalidate(blockIndex)
	c.fileKeys.Invalidate(blockIndex)
}
