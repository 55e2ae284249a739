// Package partition defines the hash-bucket partitioning scheme shared by
// the reference backends. A descriptor names one bucket out of a fixed count
// ("index/count"); a grant belongs to the bucket selected by the FNV-1a hash
// of its UUID. The scheme is stable for a given count regardless of when a
// grant was created, so a sweep partitioned into N latches covers every
// grant exactly once.
package partition

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrDescriptor marks a descriptor this package did not issue.
var ErrDescriptor = errors.New("malformed partition descriptor")

// Descriptor encodes bucket index out of count.
func Descriptor(index, count int) string {
	return fmt.Sprintf("%d/%d", index, count)
}

// Parse decodes a descriptor back into its bucket index and count.
func Parse(descriptor string) (index, count int, err error) {
	idxStr, cntStr, ok := strings.Cut(descriptor, "/")
	if !ok {
		return 0, 0, ErrDescriptor
	}
	index, err = strconv.Atoi(idxStr)
	if err != nil {
		return 0, 0, ErrDescriptor
	}
	count, err = strconv.Atoi(cntStr)
	if err != nil {
		return 0, 0, ErrDescriptor
	}
	if count <= 0 || index < 0 || index >= count {
		return 0, 0, ErrDescriptor
	}
	return index, count, nil
}

// Bucket maps a grant ID onto one of count buckets.
func Bucket(id uuid.UUID, count int) int {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return int(h.Sum32() % uint32(count))
}
