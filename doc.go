// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

/*
Package mpq provides pure Go support for reading and writing MPQ (Mo'PaQ) archives.

MPQ is an archive format created by Blizzard Entertainment, used in games like
Diablo, StarCraft, and World of Warcraft. This package supports MPQ format
versions 1 and 2, which covers games up through WoW: Wrath of the Lich King (3.3.5a).

# Features

  - Pure Go implementation - no CGO
  - Read and write MPQ archives
  - Support for MPQ format V1 (original, up to 4GB) and V2 (extended, >4GB)
  - Zlib, bzip2, PKWare DCL, Huffman, and ADPCM compression support, including
    the layered codec combinations Storm uses for WAVE sectors
  - Encrypted file reading, including the FIX_KEY per-file key adjustment;
    the writer stores every file unencrypted
  - RSA weak/strong (signature) verification
  - Functional options for per-file compressor/quality/locale selection and
    for archive open/create tuning
  - Cross-platform compatibility

# Basic Usage

Creating an archive:

	archive, err := mpq.Create("patch.mpq", 100)
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	err = archive.AddFile("local/file.txt", "Data\\file.txt")
	if err != nil {
		log.Fatal(err)
	}

Reading an archive:

	archive, err := mpq.Open("game.mpq")
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	if archive.HasFile("Data\\file.txt") {
		err = archive.ExtractFile("Data\\file.txt", "output/file.txt")
		if err != nil {
			log.Fatal(err)
		}
	}

# Format Versions

Use [Create] for V1 format (compatible with all games) or [CreateV2] for
V2 format (required for archives >4GB, compatible with WoW: TBC and later).

# Path Conventions

MPQ archives use backslash (\) as the path separator. This package automatically
converts forward slashes to backslashes, so both formats work:

	archive.AddFile("src.txt", "Data\\SubDir\\file.txt")  // Native MPQ format
	archive.AddFile("src.txt", "Data/SubDir/file.txt")    // Also works

# Limitations

This package focuses on the subset of MPQ functionality needed for game modding:

  - No support for sparse (RLE) or LZMA sector compression (SC2+ codecs)
  - No support for MPQ format V3/V4 (Cataclysm+)
  - No support for chaining patch archives by priority; callers compose that
    themselves across multiple opened [Archive] values
  - The embedded Blizzard RSA public keys are placeholders; [SignatureInfo.VerifySignature]
    will not validate real Blizzard-signed archives until they are replaced
    with the authentic published moduli (see [SignatureInfo.VerifySignatureWithKey]
    for supplying your own)
*/
package mpq
