// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// createAtomicSaveTempFile creates (and immediately closes) an empty,
// uniquely-named temp file alongside the target archive path, for the
// atomic write-then-rename pattern Close uses. The name embeds a random
// UUID rather than os.CreateTemp's random numeric suffix so two Archives
// writing to the same directory concurrently can never collide, and so a
// crash-interrupted save leaves behind a recognizable, globally unique
// artifact for cleanup tooling to find.
func createAtomicSaveTempFile(dir, targetPath string) (string, error) {
	name := fmt.Sprintf("%s.%s.tmp", filepath.Base(targetPath), uuid.NewString())
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", err
	}
	f.Close()
	return path, nil
}
