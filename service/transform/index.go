package transform

import (
	"sync"

	"github.com/tweag/asset-relay/integrity"
)

// Index remembers which cache keys are published, and their size.
// It saves a stat call per cache hit. The directory stays the source of truth:
// a missing index entry only means the disk has to be asked.
// The key is the hash padded to 64 bytes, plus one byte identifying the algorithm.
type Index struct {
	shards [shardCount]map[[65]byte]int64
	muxs   [shardCount]sync.RWMutex
}

func NewIndex() *Index {
	index := &Index{shards: [shardCount]map[[65]byte]int64{}}
	for i := range index.shards {
		index.shards[i] = make(map[[65]byte]int64)
	}
	return index
}

func (x *Index) Get(digest integrity.Digest, alg integrity.Algorithm) (int64, bool) {
	key := indexKey(digest, alg)
	shard := key[0] & shardMask
	x.muxs[shard].RLock()
	defer x.muxs[shard].RUnlock()

	size, ok := x.shards[shard][key]
	return size, ok
}

func (x *Index) Put(digest integrity.Digest, alg integrity.Algorithm, sizeBytes int64) {
	key := indexKey(digest, alg)
	shard := key[0] & shardMask
	x.muxs[shard].Lock()
	defer x.muxs[shard].Unlock()

	x.shards[shard][key] = sizeBytes
}

// Delete reports whether the key was present.
func (x *Index) Delete(digest integrity.Digest, alg integrity.Algorithm) bool {
	key := indexKey(digest, alg)
	shard := key[0] & shardMask
	x.muxs[shard].Lock()
	defer x.muxs[shard].Unlock()

	_, ok := x.shards[shard][key]
	delete(x.shards[shard], key)
	return ok
}

func (x *Index) Len() int {
	var n int
	for i := range x.shards {
		x.muxs[i].RLock()
		n += len(x.shards[i])
		x.muxs[i].RUnlock()
	}
	return n
}

func indexKey(digest integrity.Digest, alg integrity.Algorithm) [65]byte {
	var key [65]byte
	hash := digest.Hash()
	copy(key[:64], hash[:alg.SizeBytes()])
	key[64] = alg.Identifier()
	return key
}

const (
	shardCount = 2 << 7
	shardMask  = shardCount - 1
)
