// Package hnsw implements the Hierarchical Navigable Small World graph used
// as the label-keyed ANN backend behind the index.Index contract.
package hnsw

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/PandiaJason/MidDB/index"
	"github.com/PandiaJason/MidDB/metric"
	"github.com/PandiaJason/MidDB/queue"
)

// Compile time check to ensure HNSW satisfies the index contract.
var _ index.Index = (*HNSW)(nil)

// DistanceFunc represents a function for calculating the distance between two vectors
type DistanceFunc func(v1, v2 []float32) (float32, error)

// Node represents a node in the HNSW graph
type Node struct {
	Connections [][]uint32 // Links to other nodes, one slice per layer
	Vector      []float32  // Vector (dimension elements)
	Layer       int        // Topmost layer the node exists in
	ID          uint32     // Graph-internal identifier
}

// Options represents the options for configuring HNSW.
type Options struct {
	// M specifies the number of established connections for every new element
	// during construction. The range M=12-48 is ok for most use cases.
	M int

	// EF specifies the size of the dynamic candidate list. Larger EF values
	// improve recall at the cost of increased search time.
	EF int

	// Heuristic indicates whether to use the heuristic neighbour selection
	// (true) or the naive K-NN selection (false).
	Heuristic bool

	// RandomSeed seeds layer assignment for deterministic construction.
	// If nil, a time-based seed is used.
	RandomSeed *int64

	// DistanceFunc is the distance function used for all comparisons.
	DistanceFunc DistanceFunc
}

var DefaultOptions = Options{
	M:            8,
	EF:           200,
	Heuristic:    true,
	DistanceFunc: metric.SquaredL2,
}

// HNSW represents the Hierarchical Navigable Small World graph. Vectors are
// added under caller-assigned labels; graph node ids stay internal. Deletes
// are soft: tombstoned nodes are kept in the graph for navigation but never
// surfaced from searches.
type HNSW struct {
	dimension int
	mmax      int     // Max number of connections per element/per layer
	mmax0     int     // Max for the 0 layer
	ml        float64 // Normalization factor for level generation
	ep        uint32  // Entry point into the top layer
	maxLevel  int     // Current max level in use

	nodes       []*Node
	labelToNode map[uint32]uint32 // label -> current node id (tombstoned after MarkDeleted)
	nodeLabel   map[uint32]uint32 // node id -> label
	tombstones  *roaring.Bitmap   // node ids excluded from results

	rng  *rand.Rand
	opts Options

	mutex sync.Mutex
}

// New creates a new HNSW instance with the given dimension and options.
// Node 0 is a zero-vector sentinel: it anchors the empty graph and is never
// returned from searches.
func New(dimension int, optFns ...func(o *Options)) *HNSW {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < 2 {
		// M == 1 would result in division by zero in the level multiplier
		opts.M = 2
	}

	if opts.DistanceFunc == nil {
		opts.DistanceFunc = metric.SquaredL2
	}

	var rng *rand.Rand
	if opts.RandomSeed != nil {
		rng = rand.New(rand.NewSource(*opts.RandomSeed)) // nolint gosec
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) // nolint gosec
	}

	return &HNSW{
		dimension:   dimension,
		mmax:        opts.M,
		mmax0:       2 * opts.M,
		ep:          0,
		maxLevel:    0,
		ml:          1 / math.Log(1.0*float64(opts.M)),
		nodes:       []*Node{{ID: 0, Layer: 0, Vector: make([]float32, dimension), Connections: make([][]uint32, 2*opts.M+1)}},
		labelToNode: make(map[uint32]uint32),
		nodeLabel:   make(map[uint32]uint32),
		tombstones:  roaring.New(),
		rng:         rng,
		opts:        opts,
	}
}

// Dimension returns the fixed dimensionality of the index.
func (h *HNSW) Dimension() int {
	return h.dimension
}

// Len returns the number of live labels.
func (h *HNSW) Len() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	n := 0
	for _, id := range h.labelToNode {
		if !h.tombstones.Contains(id) {
			n++
		}
	}

	return n
}

// Add inserts a vector under the given label. If the label is already bound,
// the previous node is tombstoned and the label re-bound to the new node, so
// callers observe an in-place update.
func (h *HNSW) Add(vector []float32, label uint32) error {
	if len(vector) != h.dimension {
		return &index.ErrDimensionMismatch{Expected: h.dimension, Actual: len(vector)}
	}

	// Copy so changes outside this function don't affect the node
	vectorCopy := make([]float32, len(vector))
	copy(vectorCopy, vector)

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if old, ok := h.labelToNode[label]; ok {
		h.tombstones.Add(old)
		delete(h.nodeLabel, old)
	}

	id, err := h.insert(vectorCopy)
	if err != nil {
		return err
	}

	h.labelToNode[label] = id
	h.nodeLabel[id] = label

	return nil
}

// MarkDeleted soft-deletes the vector bound to label. Unknown labels and
// repeated deletes are no-ops.
func (h *HNSW) MarkDeleted(label uint32) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if id, ok := h.labelToNode[label]; ok {
		h.tombstones.Add(id)
	}
}

// insert adds a new node to the graph and returns its internal id.
// The caller must hold h.mutex.
func (h *HNSW) insert(vector []float32) (uint32, error) {
	id := uint32(len(h.nodes))

	u := h.rng.Float64()
	for u == 0 { // log(0) is undefined
		u = h.rng.Float64()
	}

	layer := int(math.Floor(-math.Log(u) * h.ml))

	node := &Node{
		ID:          id,
		Vector:      vector,
		Layer:       layer,
		Connections: make([][]uint32, max(layer, h.mmax)+1),
	}

	// Find single shortest path from the layers above our node's top layer,
	// which will be our starting point
	currObj, currDist, err := h.findShortestPath(node)
	if err != nil {
		return 0, err
	}

	topCandidates := &queue.PriorityQueue{
		Order: false,
	}

	// For all levels equal and below our node, find the closest candidates
	// and create links
	for level := min(node.Layer, h.maxLevel); level >= 0; level-- {
		if err := h.searchLayer(vector, &queue.PriorityQueueItem{Distance: currDist, Node: currObj.ID}, topCandidates, h.opts.EF, level); err != nil {
			return 0, err
		}

		if h.opts.Heuristic {
			if err := h.selectNeighboursHeuristic(topCandidates, h.opts.M, false); err != nil {
				return 0, err
			}
		} else {
			h.selectNeighboursSimple(topCandidates, h.opts.M)
		}

		node.Connections[level] = make([]uint32, topCandidates.Len())

		for i := topCandidates.Len() - 1; i >= 0; i-- {
			candidate, _ := heap.Pop(topCandidates).(*queue.PriorityQueueItem)
			node.Connections[level][i] = candidate.Node
		}
	}

	h.nodes = append(h.nodes, node)

	// Link the neighbour nodes back to our new node, making it visible
	for level := min(node.Layer, h.maxLevel); level >= 0; level-- {
		for _, neighbourNode := range node.Connections[level] {
			if err := h.link(neighbourNode, node.ID, level); err != nil {
				return 0, err
			}
		}
	}

	if node.Layer > h.maxLevel {
		h.ep = node.ID
		h.maxLevel = node.Layer
	}

	return id, nil
}

func (h *HNSW) findShortestPath(node *Node) (*Node, float32, error) {
	currObj := h.nodes[h.ep]

	currDist, err := h.opts.DistanceFunc(currObj.Vector, node.Vector)
	if err != nil {
		return nil, 0, err
	}

	for level := currObj.Layer; level > node.Layer; level-- {
		changed := true
		for changed {
			changed = false

			for _, nodeID := range h.connectionsAt(currObj, level) {
				newObj := h.nodes[nodeID]

				newDist, err := h.opts.DistanceFunc(newObj.Vector, node.Vector)
				if err != nil {
					return nil, 0, err
				}

				if newDist < currDist {
					currObj = newObj
					currDist = newDist
					changed = true
				}
			}
		}
	}

	return currObj, currDist, nil
}

// KNNSearch performs a k-nearest neighbor search. Results are in ascending
// distance order, ties broken by ascending label; tombstoned nodes and the
// sentinel are filtered out, so fewer than k results may come back.
func (h *HNSW) KNNSearch(q []float32, k int) ([]index.SearchResult, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}

	if len(q) != h.dimension {
		return nil, &index.ErrDimensionMismatch{Expected: h.dimension, Actual: len(q)}
	}

	topCandidates := &queue.PriorityQueue{
		Order: true,
	}

	heap.Init(topCandidates)

	currObj := h.nodes[h.ep]

	match, currDist, err := h.findEp(q, currObj)
	if err != nil {
		return nil, err
	}

	var node uint32
	if match != nil {
		node = match.ID
	}

	efSearch := max(h.opts.EF, k)

	if err := h.searchLayer(q, &queue.PriorityQueueItem{Distance: currDist, Node: node}, topCandidates, efSearch, 0); err != nil {
		return nil, err
	}

	// Filter before trimming to k so tombstones don't eat result slots
	results := make([]index.SearchResult, 0, topCandidates.Len())

	for topCandidates.Len() > 0 {
		item, _ := heap.Pop(topCandidates).(*queue.PriorityQueueItem)

		label, ok := h.nodeLabel[item.Node]
		if !ok || h.tombstones.Contains(item.Node) {
			continue
		}

		results = append(results, index.SearchResult{Label: label, Distance: item.Distance})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Label < results[j].Label
	})

	if len(results) > k {
		results = results[:k]
	}

	return results, nil
}

// link adds an edge from first to second, re-pruning first's connection
// list when it overflows.
func (h *HNSW) link(first uint32, second uint32, level int) error {
	maxConnections := h.mmax
	// The bottom layer (0) allows double the connections
	if level == 0 {
		maxConnections = h.mmax0
	}

	node := h.nodes[first]

	if len(node.Connections) <= level {
		grown := make([][]uint32, level+1)
		copy(grown, node.Connections)
		node.Connections = grown
	}

	node.Connections[level] = append(node.Connections[level], second)

	if len(node.Connections[level]) > maxConnections {
		topCandidates := &queue.PriorityQueue{
			Order: false,
		}

		heap.Init(topCandidates)

		for _, id := range node.Connections[level] {
			distance, err := h.opts.DistanceFunc(node.Vector, h.nodes[id].Vector)
			if err != nil {
				return err
			}

			heap.Push(topCandidates, &queue.PriorityQueueItem{Node: id, Distance: distance})
		}

		if h.opts.Heuristic {
			if err := h.selectNeighboursHeuristic(topCandidates, maxConnections, true); err != nil {
				return err
			}
		} else {
			h.selectNeighboursSimple(topCandidates, maxConnections)
		}

		// Reorder the connected nodes by the improved distances
		node.Connections[level] = make([]uint32, maxConnections)

		for i := maxConnections - 1; i >= 0; i-- {
			item, _ := heap.Pop(topCandidates).(*queue.PriorityQueueItem)
			node.Connections[level][i] = item.Node
		}
	}

	return nil
}

// searchLayer performs a beam search in a single layer of the graph.
func (h *HNSW) searchLayer(q []float32, ep *queue.PriorityQueueItem, topCandidates *queue.PriorityQueue, ef int, level int) error {
	visited := roaring.New()
	visited.Add(ep.Node)

	candidates := &queue.PriorityQueue{
		Order: false,
	}
	heap.Init(candidates)
	heap.Push(candidates, ep)

	topCandidates.Order = true // max-heap
	topCandidates.Items = topCandidates.Items[:0]
	heap.Init(topCandidates)
	heap.Push(topCandidates, ep)

	for candidates.Len() > 0 {
		lowerBound := topCandidates.Top().(*queue.PriorityQueueItem).Distance

		candidate, _ := heap.Pop(candidates).(*queue.PriorityQueueItem)
		if candidate.Distance > lowerBound {
			break
		}

		node := h.nodes[candidate.Node]

		if len(node.Connections) > level {
			for _, n := range node.Connections[level] {
				if visited.Contains(n) {
					continue
				}

				visited.Add(n)

				distance, err := h.opts.DistanceFunc(q, h.nodes[n].Vector)
				if err != nil {
					return err
				}

				topDistance := topCandidates.Top().(*queue.PriorityQueueItem).Distance

				item := &queue.PriorityQueueItem{
					Distance: distance,
					Node:     n,
				}

				if topCandidates.Len() < ef {
					heap.Push(topCandidates, item)
					heap.Push(candidates, item)
				} else if topDistance > distance {
					heap.Pop(topCandidates)
					heap.Push(topCandidates, item)
					heap.Push(candidates, item)
				}
			}
		}
	}

	return nil
}

// selectNeighboursSimple keeps the M nearest candidates.
func (h *HNSW) selectNeighboursSimple(topCandidates *queue.PriorityQueue, M int) {
	for topCandidates.Len() > M {
		_ = heap.Pop(topCandidates)
	}
}

// selectNeighboursHeuristic prefers candidates that are closer to the query
// than to any already-selected neighbour, improving graph connectivity.
func (h *HNSW) selectNeighboursHeuristic(topCandidates *queue.PriorityQueue, M int, order bool) error {
	if topCandidates.Len() < M {
		return nil
	}

	newCandidates := &queue.PriorityQueue{}

	tmpCandidates := &queue.PriorityQueue{Order: order}
	heap.Init(tmpCandidates)

	items := make([]*queue.PriorityQueueItem, 0, M)

	if !order {
		newCandidates.Order = order
		heap.Init(newCandidates)

		for topCandidates.Len() > 0 {
			item, _ := heap.Pop(topCandidates).(*queue.PriorityQueueItem)
			heap.Push(newCandidates, item)
		}
	} else {
		newCandidates = topCandidates
	}

	for newCandidates.Len() > 0 {
		if len(items) >= M {
			break
		}

		item, _ := heap.Pop(newCandidates).(*queue.PriorityQueueItem)
		hit := true

		for _, v := range items {
			distance, err := h.opts.DistanceFunc(h.nodes[v.Node].Vector, h.nodes[item.Node].Vector)
			if err != nil {
				return err
			}

			if distance < item.Distance {
				hit = false
				break
			}
		}

		if hit {
			items = append(items, item)
		} else {
			heap.Push(tmpCandidates, item)
		}
	}

	for len(items) < M && tmpCandidates.Len() > 0 {
		item, _ := heap.Pop(tmpCandidates).(*queue.PriorityQueueItem)
		items = append(items, item)
	}

	for _, item := range items {
		heap.Push(topCandidates, item)
	}

	return nil
}

// findEp walks the upper layers greedily towards q and returns the best
// entry point for the layer-0 beam search.
func (h *HNSW) findEp(q []float32, currObj *Node) (*Node, float32, error) {
	currDist, err := h.opts.DistanceFunc(q, currObj.Vector)
	if err != nil {
		return nil, 0, err
	}

	match := currObj

	for level := h.maxLevel; level > 0; level-- {
		scan := true

		for scan {
			scan = false

			for _, nodeID := range h.connectionsAt(currObj, level) {
				nodeDist, err := h.opts.DistanceFunc(h.nodes[nodeID].Vector, q)
				if err != nil {
					return nil, 0, err
				}

				if nodeDist < currDist {
					match = h.nodes[nodeID]
					currDist = nodeDist
					scan = true
					currObj = match
				}
			}
		}
	}

	return match, currDist, nil
}

func (h *HNSW) connectionsAt(node *Node, level int) []uint32 {
	if level >= len(node.Connections) {
		return nil
	}
	return node.Connections[level]
}
