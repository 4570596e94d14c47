package blocking

import (
	"encoding/binary"
	"fmt"

	"github.com/spaolacci/murmur3"
)

// signature is a MinHash signature: one minimum hash per hash-family member.
type signature []uint64

// minhash computes the MinHash signature of a text over k-shingles using a
// murmur3 hash family seeded per signature position. An empty shingle set
// returns nil, which callers treat as "no fuzzy blocking material".
func minhash(text string, shingleSize, numHashes int) signature {
	shingles := shingle(text, shingleSize)
	if len(shingles) == 0 {
		return nil
	}

	sig := make(signature, numHashes)
	for i := range sig {
		sig[i] = ^uint64(0)
	}

	for sh := range shingles {
		for i := 0; i < numHashes; i++ {
			h := murmur3.Sum64WithSeed([]byte(sh), uint32(i))
			if h < sig[i] {
				sig[i] = h
			}
		}
	}

	return sig
}

// shingle returns the set of k-length substrings of text. Texts shorter than
// k produce a single shingle so short values still block.
func shingle(text string, k int) map[string]struct{} {
	shingles := make(map[string]struct{})
	if text == "" {
		return shingles
	}

	runes := []rune(text)
	if len(runes) <= k {
		shingles[string(runes)] = struct{}{}
		return shingles
	}

	for i := 0; i+k <= len(runes); i++ {
		shingles[string(runes[i:i+k])] = struct{}{}
	}
	return shingles
}

// bandKeys partitions a signature into bands of rows values and hashes each
// band into a bucket key. Records sharing any band key become candidates.
func bandKeys(sig signature, bands, rows int) []string {
	if sig == nil {
		return nil
	}

	keys := make([]string, 0, bands)
	buf := make([]byte, 8*rows)
	for b := 0; b < bands; b++ {
		for r := 0; r < rows; r++ {
			binary.LittleEndian.PutUint64(buf[8*r:], sig[b*rows+r])
		}
		keys = append(keys, fmt.Sprintf("band:%d:%x", b, murmur3.Sum64(buf)))
	}
	return keys
}
