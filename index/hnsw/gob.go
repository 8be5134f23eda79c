package hnsw

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/PandiaJason/MidDB/metric"
)

// Compile time checks to ensure HNSW satisfies the gob interfaces.
var (
	_ gob.GobEncoder = (*HNSW)(nil)
	_ gob.GobDecoder = (*HNSW)(nil)
)

// persistedOptions mirrors Options without the non-encodable distance
// function; the metric is reconstructed on decode.
type persistedOptions struct {
	M         int
	EF        int
	Heuristic bool
}

// GobEncode encodes the full graph state.
func (h *HNSW) GobEncode() ([]byte, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)

	if err := encoder.Encode(h.dimension); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.ep); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.maxLevel); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.nodes); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.labelToNode); err != nil {
		return nil, err
	}

	if err := encoder.Encode(h.nodeLabel); err != nil {
		return nil, err
	}

	tombstoneBytes, err := h.tombstones.ToBytes()
	if err != nil {
		return nil, err
	}
	if err := encoder.Encode(tombstoneBytes); err != nil {
		return nil, err
	}

	if err := encoder.Encode(persistedOptions{M: h.opts.M, EF: h.opts.EF, Heuristic: h.opts.Heuristic}); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode restores the full graph state. The distance function and RNG are
// not persisted: the metric defaults to squared L2 and the RNG is reseeded.
func (h *HNSW) GobDecode(data []byte) error {
	decoder := gob.NewDecoder(bytes.NewBuffer(data))

	if err := decoder.Decode(&h.dimension); err != nil {
		return err
	}

	if err := decoder.Decode(&h.ep); err != nil {
		return err
	}

	if err := decoder.Decode(&h.maxLevel); err != nil {
		return err
	}

	if err := decoder.Decode(&h.nodes); err != nil {
		return err
	}

	if err := decoder.Decode(&h.labelToNode); err != nil {
		return err
	}

	if err := decoder.Decode(&h.nodeLabel); err != nil {
		return err
	}

	var tombstoneBytes []byte
	if err := decoder.Decode(&tombstoneBytes); err != nil {
		return err
	}
	h.tombstones = roaring.New()
	if len(tombstoneBytes) > 0 {
		if err := h.tombstones.UnmarshalBinary(tombstoneBytes); err != nil {
			return err
		}
	}

	var po persistedOptions
	if err := decoder.Decode(&po); err != nil {
		return err
	}

	h.opts = Options{M: po.M, EF: po.EF, Heuristic: po.Heuristic, DistanceFunc: metric.SquaredL2}
	h.mmax = po.M
	h.mmax0 = 2 * po.M
	h.ml = 1 / math.Log(1.0*float64(po.M))
	h.rng = rand.New(rand.NewSource(time.Now().UnixNano())) // nolint gosec

	if h.labelToNode == nil {
		h.labelToNode = make(map[uint32]uint32)
	}
	if h.nodeLabel == nil {
		h.nodeLabel = make(map[uint32]uint32)
	}

	return nil
}
