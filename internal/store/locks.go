package store

import (
	"sync"

	"github.com/cespare/xxhash"
)

const lockStripes = 64

// stripedLock serializes writers per key inside this process. Different keys
// mostly land on different stripes and proceed in parallel; the database
// transaction remains the cross-process guarantee.
type stripedLock struct {
	stripes [lockStripes]sync.Mutex
}

func (l *stripedLock) lock(key string) func() {
	m := &l.stripes[xxhash.Sum64String(key)%lockStripes]
	m.Lock()
	return m.Unlock
}
