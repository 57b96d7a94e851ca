package graphics

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"math"
)

// Hasher accumulates FNV-1a over fixed-width little endian fields. Backends
// use it to key their native object caches.
type Hasher struct {
	h   hash.Hash64
	buf [8]byte
}

func NewHasher() *Hasher {
	return &Hasher{h: fnv.New64a()}
}

func (h *Hasher) U32(v uint32) *Hasher {
	binary.LittleEndian.PutUint32(h.buf[:4], v)
	_, _ = h.h.Write(h.buf[:4])
	return h
}

func (h *Hasher) U64(v uint64) *Hasher {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	_, _ = h.h.Write(h.buf[:])
	return h
}

func (h *Hasher) F32(v float32) *Hasher {
	return h.U32(math.Float32bits(v))
}

func (h *Hasher) Bool(v bool) *Hasher {
	if v {
		return h.U32(1)
	}
	return h.U32(0)
}

func (h *Hasher) Sum() uint64 {
	return h.h.Sum64()
}
