// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArchiveCachesSectorOffsets(t *testing.T) {
	c := newArchiveCaches()

	_, ok := c.sectorOffsetTable(7)
	require.False(t, ok)

	table := []uint32{0, 100, 200, 300}
	c.putSectorOffsetTable(7, table)

	got, ok := c.sectorOffsetTable(7)
	require.True(t, ok)
	require.Equal(t, table, got)
}

func TestArchiveCachesFileKey(t *testing.T) {
	c := newArchiveCaches()

	_, ok := c.fileKey(3)
	require.False(t, ok)

	c.putFileKey(3, 0xDEADBEEF)

	got, ok := c.fileKey(3)
	require.True(t, ok)
	require.Equal(t, uint32(0xDEADBEEF), got)
}

func TestArchiveCachesInvalidate(t *testing.T) {
	c := newArchiveCaches()
	c.putSectorOffsetTable(1, []uint32{1, 2})
	c.putFileKey(1, 42)

	c.invalidate(1)

	_, ok := c.sectorOffsetTable(1)
	require.False(t, ok)
	_, ok = c.fileKey(1)
	require.False(t, ok)
}
