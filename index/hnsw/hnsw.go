// Package hnsw implements the Hierarchical Navigable Small World graph
// index: an exponential layer hierarchy for greedy descent plus a bounded
// beam search on the bottom layer. Inserts are single-writer; searches run
// concurrently against the published graph.
package hnsw

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/PromaChow/lance/distance"
	"github.com/PromaChow/lance/index"
	"github.com/PromaChow/lance/internal/queue"
	"github.com/PromaChow/lance/internal/visited"
	"github.com/PromaChow/lance/quantization"
)

const (
	// DefaultM is the default number of bidirectional links per node.
	DefaultM = 16

	// DefaultEFConstruction is the default beam width during insertion.
	DefaultEFConstruction = 200

	// DefaultEFSearch is the default beam width during queries.
	DefaultEFSearch = 100

	// mmax0Multiplier scales the layer-0 connection cap relative to M.
	mmax0Multiplier = 2

	minimumM = 2

	numLinkShards = 512
)

// Options configures the HNSW index.
type Options struct {
	Dimension int
	Metric    distance.Metric

	// M is the number of bidirectional links per node above layer 0.
	// Layer 0 allows 2*M links.
	M int

	// EFConstruction is the candidate beam width while linking a new node.
	EFConstruction int

	// DefaultEFSearch is the query beam width used when a search does not
	// set its own.
	DefaultEFSearch int

	// Heuristic enables keep-diverse neighbor selection. When off, the
	// plain nearest-M selection is used.
	Heuristic bool

	// Quantizer, when set, scores beam candidates on compressed codes
	// instead of raw vectors. Raw vectors are still kept for neighbor
	// diversification and exact reranking.
	Quantizer quantization.Quantizer

	// Seed makes layer assignment reproducible.
	Seed int64
}

// neighbor is one outgoing link with its cached distance.
type neighbor struct {
	idx  uint32
	dist float32
}

// node is immutable after creation except for its per-layer link slices,
// which are replaced wholesale under the owning shard lock.
type node struct {
	ext   uint64
	level int
	vec   []float32
	code  []byte

	// links[l] is the adjacency list at layer l. Slices are copy-on-write:
	// readers holding one keep a consistent view.
	links [][]neighbor
}

// HNSW is the graph index.
//
// Concurrency: one writer at a time (Insert/Delete are serialized by an
// internal mutex); any number of concurrent searches. Link slices are
// replaced, never mutated, so a reader always observes a node's links as
// they were at some point in time.
type HNSW struct {
	opts     Options
	distFunc distance.Func

	mmax       int
	mmax0      int
	levelMult  float64
	rngState   atomic.Uint64
	writeMu    sync.Mutex
	linkShards []sync.RWMutex

	// nodes is the published dense array of nodes, grown copy-on-write.
	nodes    atomic.Pointer[[]*node]
	liveCnt  atomic.Int64 // nodes minus tombstones
	entry    atomic.Int64 // internal index of the entry point, -1 when empty
	maxLevel atomic.Int32

	mu         sync.RWMutex
	byExt      map[uint64]uint32
	tombstones *roaring64.Bitmap

	searchPool sync.Pool
}

type searchState struct {
	visited    *visited.Set
	candidates *queue.PriorityQueue // min-heap, expansion frontier
	results    *queue.PriorityQueue // max-heap, bounded beam
}

// New creates an empty HNSW index.
func New(optFns ...func(o *Options)) (*HNSW, error) {
	opts := Options{
		Metric:          distance.MetricL2,
		M:               DefaultM,
		EFConstruction:  DefaultEFConstruction,
		DefaultEFSearch: DefaultEFSearch,
		Heuristic:       true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, &index.ErrInvalidParameter{Param: "dimension", Reason: "must be positive"}
	}
	if opts.M < minimumM {
		return nil, &index.ErrInvalidParameter{Param: "m", Reason: fmt.Sprintf("must be at least %d", minimumM)}
	}
	if opts.EFConstruction < opts.M {
		return nil, &index.ErrInvalidParameter{Param: "efConstruction", Reason: "must be at least m"}
	}
	if opts.DefaultEFSearch <= 0 {
		return nil, &index.ErrInvalidParameter{Param: "efSearch", Reason: "must be positive"}
	}
	distFunc, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, &index.ErrInvalidParameter{Param: "metric", Reason: err.Error()}
	}

	h := &HNSW{
		opts:       opts,
		distFunc:   distFunc,
		mmax:       opts.M,
		mmax0:      mmax0Multiplier * opts.M,
		levelMult:  1.0 / math.Log(float64(opts.M)),
		linkShards: make([]sync.RWMutex, numLinkShards),
		byExt:      make(map[uint64]uint32),
		tombstones: roaring64.New(),
	}
	h.rngState.Store(uint64(opts.Seed) | 1)
	h.entry.Store(-1)
	h.maxLevel.Store(-1)
	empty := make([]*node, 0)
	h.nodes.Store(&empty)

	h.searchPool.New = func() any {
		return &searchState{
			visited:    visited.New(1024),
			candidates: queue.NewMin(opts.EFConstruction),
			results:    queue.NewMax(opts.EFConstruction),
		}
	}

	return h, nil
}

// Train fits the configured quantizer on the sample. It is a no-op when the
// index stores raw vectors only.
func (h *HNSW) Train(ctx context.Context, sample [][]float32) error {
	if h.opts.Quantizer == nil {
		return nil
	}
	if distance.NeedsNormalization(h.opts.Metric) {
		normalized := make([][]float32, len(sample))
		for i, vec := range sample {
			cp, ok := distance.NormalizeL2Copy(vec)
			if !ok {
				return fmt.Errorf("hnsw: training sample %d is a zero vector", i)
			}
			normalized[i] = cp
		}
		sample = normalized
	}
	return h.opts.Quantizer.Train(ctx, sample)
}

// Trained reports whether the index accepts inserts.
func (h *HNSW) Trained() bool {
	return h.opts.Quantizer == nil || h.opts.Quantizer.Trained()
}

// nextLevel draws a level from the exponential distribution with multiplier
// 1/ln(M) using a seeded xorshift64* generator.
func (h *HNSW) nextLevel() int {
	s := h.rngState.Add(0x9E3779B97F4A7C15)
	s ^= s >> 12
	s ^= s << 25
	s ^= s >> 27
	r := float64(s*0x2545F4914F6CDD1D>>11) / float64(1<<53)
	if r == 0 {
		r = 1.0 / float64(1<<53)
	}
	return int(math.Floor(-math.Log(r) * h.levelMult))
}

func (h *HNSW) getNode(idx uint32) *node {
	nodes := *h.nodes.Load()
	if int(idx) >= len(nodes) {
		return nil
	}
	return nodes[idx]
}

// appendNode publishes a new node and returns its internal index. Caller
// holds writeMu.
func (h *HNSW) appendNode(n *node) uint32 {
	old := *h.nodes.Load()
	idx := uint32(len(old))
	grown := make([]*node, len(old)+1)
	copy(grown, old)
	grown[len(old)] = n
	h.nodes.Store(&grown)
	return idx
}

func (h *HNSW) getLinks(idx uint32, layer int) []neighbor {
	n := h.getNode(idx)
	if n == nil || layer >= len(n.links) {
		return nil
	}
	shard := &h.linkShards[idx%numLinkShards]
	shard.RLock()
	links := n.links[layer]
	shard.RUnlock()
	return links
}

func (h *HNSW) setLinks(idx uint32, layer int, links []neighbor) {
	n := h.getNode(idx)
	if n == nil || layer >= len(n.links) {
		return
	}
	shard := &h.linkShards[idx%numLinkShards]
	shard.Lock()
	n.links[layer] = links
	shard.Unlock()
}

func (h *HNSW) prepareVector(v []float32) ([]float32, error) {
	if err := index.ValidateDimension(h.opts.Dimension, v); err != nil {
		return nil, err
	}
	if distance.NeedsNormalization(h.opts.Metric) {
		normalized, ok := distance.NormalizeL2Copy(v)
		if !ok {
			return nil, fmt.Errorf("hnsw: cannot normalize zero vector")
		}
		return normalized, nil
	}
	return v, nil
}

// scoreFunc builds the per-query distance function over internal indexes.
// With a quantizer it scores compressed codes through an asymmetric table;
// otherwise it computes exact distances against the stored vectors.
func (h *HNSW) scoreFunc(query []float32) (func(idx uint32) float32, error) {
	if h.opts.Quantizer != nil {
		scorer, err := h.opts.Quantizer.NewScorer(query)
		if err != nil {
			return nil, err
		}
		return func(idx uint32) float32 {
			n := h.getNode(idx)
			if n == nil {
				return math.MaxFloat32
			}
			return scorer.Score(n.code)
		}, nil
	}
	return func(idx uint32) float32 {
		n := h.getNode(idx)
		if n == nil {
			return math.MaxFloat32
		}
		return h.distFunc(query, n.vec)
	}, nil
}

// Insert adds a vector under the given row id and links it into the graph.
func (h *HNSW) Insert(ctx context.Context, id uint64, vec []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !h.Trained() {
		return index.ErrNotBuilt
	}
	vec, err := h.prepareVector(vec)
	if err != nil {
		return err
	}

	var code []byte
	if h.opts.Quantizer != nil {
		code, err = h.opts.Quantizer.Encode(vec)
		if err != nil {
			return err
		}
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.mu.RLock()
	_, exists := h.byExt[id]
	h.mu.RUnlock()
	if exists {
		return &index.ErrInvalidParameter{Param: "id", Reason: fmt.Sprintf("row id %d already present", id)}
	}

	level := h.nextLevel()
	n := &node{
		ext:   id,
		level: level,
		vec:   vec,
		code:  code,
		links: make([][]neighbor, level+1),
	}

	idx := h.appendNode(n)
	h.mu.Lock()
	h.byExt[id] = idx
	h.mu.Unlock()

	if h.entry.Load() < 0 {
		// First node becomes the entry point; nothing to link.
		h.entry.Store(int64(idx))
		h.maxLevel.Store(int32(level))
		h.liveCnt.Add(1)
		return nil
	}

	if err := h.link(ctx, idx, n); err != nil {
		return err
	}

	h.liveCnt.Add(1)
	if int32(level) > h.maxLevel.Load() {
		h.maxLevel.Store(int32(level))
		h.entry.Store(int64(idx))
	}
	return nil
}

// link connects a freshly published node into every layer it occupies.
func (h *HNSW) link(ctx context.Context, idx uint32, n *node) error {
	score, err := h.scoreFunc(n.vec)
	if err != nil {
		return err
	}

	curr := uint32(h.entry.Load())
	currDist := score(curr)
	maxLevel := int(h.maxLevel.Load())

	// Greedy descent through the layers above the node's level.
	for layer := maxLevel; layer > n.level; layer-- {
		curr, currDist = h.greedyStep(curr, currDist, layer, score)
	}

	state := h.searchPool.Get().(*searchState)
	defer h.searchPool.Put(state)

	for layer := min(n.level, maxLevel); layer >= 0; layer-- {
		if err := ctx.Err(); err != nil {
			return err
		}

		h.searchLayer(state, curr, currDist, layer, h.opts.EFConstruction, score, nil, nil)

		candidates := drainMinFirst(state.results)
		if len(candidates) > 0 {
			curr = uint32(candidates[0].ID)
			currDist = candidates[0].Distance
		}

		maxConns := h.mmax
		if layer == 0 {
			maxConns = h.mmax0
		}

		selected := h.selectNeighbors(candidates, maxConns)

		links := make([]neighbor, len(selected))
		for i, c := range selected {
			links[i] = neighbor{idx: uint32(c.ID), dist: c.Distance}
		}
		h.setLinks(idx, layer, links)

		for _, c := range selected {
			h.addReverseLink(uint32(c.ID), idx, layer, c.Distance, maxConns)
		}
	}
	return nil
}

// greedyStep walks to the closest neighbor on one layer until no neighbor
// improves on the current distance.
func (h *HNSW) greedyStep(curr uint32, currDist float32, layer int, score func(uint32) float32) (uint32, float32) {
	for {
		improved := false
		for _, nb := range h.getLinks(curr, layer) {
			d := score(nb.idx)
			if d < currDist {
				curr = nb.idx
				currDist = d
				improved = true
			}
		}
		if !improved {
			return curr, currDist
		}
	}
}

// searchLayer runs the bounded beam search on one layer. The frontier always
// navigates through tombstoned or filtered nodes; only the result beam
// excludes them.
func (h *HNSW) searchLayer(state *searchState, ep uint32, epDist float32, layer, ef int, score func(uint32) float32, filter index.FilterFunc, dead *roaring64.Bitmap) {
	state.visited.Reset()
	state.candidates.Reset()
	state.results.Reset()

	state.visited.Visit(uint64(ep))
	state.candidates.Push(queue.Item{ID: uint64(ep), Distance: epDist})
	if h.admissible(ep, filter, dead) {
		state.results.Push(queue.Item{ID: uint64(ep), Distance: epDist})
	}

	for state.candidates.Len() > 0 {
		curr, _ := state.candidates.Pop()
		if state.results.Len() >= ef {
			if worst, _ := state.results.Top(); curr.Distance > worst.Distance {
				break
			}
		}

		for _, nb := range h.getLinks(uint32(curr.ID), layer) {
			if state.visited.Visited(uint64(nb.idx)) {
				continue
			}
			state.visited.Visit(uint64(nb.idx))

			d := score(nb.idx)
			if state.results.Len() >= ef {
				if worst, _ := state.results.Top(); d > worst.Distance {
					continue
				}
			}

			state.candidates.Push(queue.Item{ID: uint64(nb.idx), Distance: d})
			if h.admissible(nb.idx, filter, dead) {
				state.results.Push(queue.Item{ID: uint64(nb.idx), Distance: d})
				if state.results.Len() > ef {
					state.results.Pop()
				}
			}
		}
	}
}

func (h *HNSW) admissible(idx uint32, filter index.FilterFunc, dead *roaring64.Bitmap) bool {
	n := h.getNode(idx)
	if n == nil {
		return false
	}
	if dead != nil && dead.Contains(n.ext) {
		return false
	}
	if filter != nil && !filter(n.ext) {
		return false
	}
	return true
}

// selectNeighbors picks up to m links from candidates sorted nearest-first.
//
// The keep-diverse heuristic admits a candidate only when it is closer to
// the new node than to every neighbor already kept. That spreads links
// across directions instead of clustering them, which keeps the graph
// navigable when the data has uneven density. Remaining slots are filled
// with the nearest rejected candidates.
func (h *HNSW) selectNeighbors(candidates []queue.Item, m int) []queue.Item {
	if len(candidates) <= m {
		return candidates
	}
	if !h.opts.Heuristic {
		return candidates[:m]
	}

	kept := make([]queue.Item, 0, m)
	keptVecs := make([][]float32, 0, m)
	var rejected []queue.Item

	for _, cand := range candidates {
		if len(kept) >= m {
			break
		}
		n := h.getNode(uint32(cand.ID))
		if n == nil {
			continue
		}
		diverse := true
		for _, kv := range keptVecs {
			if h.distFunc(n.vec, kv) < cand.Distance {
				diverse = false
				break
			}
		}
		if diverse {
			kept = append(kept, cand)
			keptVecs = append(keptVecs, n.vec)
		} else {
			rejected = append(rejected, cand)
		}
	}

	for _, cand := range rejected {
		if len(kept) >= m {
			break
		}
		kept = append(kept, cand)
	}
	return kept
}

// addReverseLink adds a backlink from an existing node to the new one,
// pruning with the same selection heuristic when the node is full.
func (h *HNSW) addReverseLink(from, to uint32, layer int, dist float32, maxConns int) {
	links := h.getLinks(from, layer)
	for _, nb := range links {
		if nb.idx == to {
			return
		}
	}

	if len(links) < maxConns {
		grown := make([]neighbor, len(links)+1)
		copy(grown, links)
		grown[len(links)] = neighbor{idx: to, dist: dist}
		h.setLinks(from, layer, grown)
		return
	}

	// Full: re-select among existing links plus the new one, using the
	// cached link distances.
	candidates := make([]queue.Item, 0, len(links)+1)
	for _, nb := range links {
		candidates = append(candidates, queue.Item{ID: uint64(nb.idx), Distance: nb.dist})
	}
	candidates = append(candidates, queue.Item{ID: uint64(to), Distance: dist})
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].ID < candidates[j].ID
	})

	selected := h.selectNeighbors(candidates, maxConns)
	pruned := make([]neighbor, len(selected))
	for i, c := range selected {
		pruned[i] = neighbor{idx: uint32(c.ID), dist: c.Distance}
	}
	h.setLinks(from, layer, pruned)
}

// Delete tombstones a row id. The node stays in the graph as a waypoint so
// connectivity is preserved; it no longer appears in results.
func (h *HNSW) Delete(id uint64) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.mu.Lock()
	_, ok := h.byExt[id]
	if ok && !h.tombstones.Contains(id) {
		h.tombstones.Add(id)
		h.liveCnt.Add(-1)
	}
	h.mu.Unlock()
}

// Count returns the number of live vectors.
func (h *HNSW) Count() int {
	return int(h.liveCnt.Load())
}

func (h *HNSW) tombstoneView() *roaring64.Bitmap {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.tombstones.IsEmpty() {
		return nil
	}
	return h.tombstones.Clone()
}

// Search returns the k nearest live vectors, ordered by ascending distance
// with ties broken by ascending row id. The beam width comes from opts.EF
// (default configured at construction) and must be at least k.
func (h *HNSW) Search(ctx context.Context, query []float32, k int, opts *index.SearchOptions) ([]index.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !h.Trained() {
		return nil, index.ErrNotBuilt
	}
	if err := index.ValidateK(k); err != nil {
		return nil, err
	}

	ef := h.opts.DefaultEFSearch
	var filter index.FilterFunc
	rerank := false
	if opts != nil {
		if opts.EF > 0 {
			ef = opts.EF
		}
		filter = opts.Filter
		rerank = opts.Rerank
	}
	if ef < k {
		return nil, &index.ErrInvalidParameter{Param: "ef", Reason: fmt.Sprintf("must be at least k=%d, got %d", k, ef)}
	}

	query, err := h.prepareVector(query)
	if err != nil {
		return nil, err
	}

	entry := h.entry.Load()
	if entry < 0 {
		return nil, nil
	}

	score, err := h.scoreFunc(query)
	if err != nil {
		return nil, err
	}

	curr := uint32(entry)
	currDist := score(curr)
	for layer := int(h.maxLevel.Load()); layer > 0; layer-- {
		curr, currDist = h.greedyStep(curr, currDist, layer, score)
	}

	dead := h.tombstoneView()

	state := h.searchPool.Get().(*searchState)
	defer h.searchPool.Put(state)

	h.searchLayer(state, curr, currDist, 0, ef, score, filter, dead)

	beam := drainMinFirst(state.results)
	out := make([]index.SearchResult, 0, min(k, len(beam)))
	for _, item := range beam {
		n := h.getNode(uint32(item.ID))
		if n == nil {
			continue
		}
		d := item.Distance
		if rerank && h.opts.Quantizer != nil {
			d = h.distFunc(query, n.vec)
		}
		out = append(out, index.SearchResult{ID: n.ext, Distance: d})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// drainMinFirst empties a max-heap into a slice ordered nearest-first.
func drainMinFirst(pq *queue.PriorityQueue) []queue.Item {
	out := make([]queue.Item, pq.Len())
	for i := pq.Len() - 1; i >= 0; i-- {
		item, _ := pq.Pop()
		out[i] = item
	}
	return out
}

// Vector returns the stored (possibly normalized) vector for a row id.
func (h *HNSW) Vector(id uint64) ([]float32, bool) {
	h.mu.RLock()
	idx, ok := h.byExt[id]
	h.mu.RUnlock()
	if !ok {
		return nil, false
	}
	n := h.getNode(idx)
	if n == nil {
		return nil, false
	}
	return n.vec, true
}

// Contains reports whether a live vector exists under the row id.
func (h *HNSW) Contains(id uint64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.tombstones.Contains(id) {
		return false
	}
	_, ok := h.byExt[id]
	return ok
}

// MaxLevel returns the current top layer of the graph, -1 when empty.
func (h *HNSW) MaxLevel() int { return int(h.maxLevel.Load()) }

// Dimension returns the configured vector dimension.
func (h *HNSW) Dimension() int { return h.opts.Dimension }

// Metric returns the configured distance metric.
func (h *HNSW) Metric() distance.Metric { return h.opts.Metric }

// Quantizer returns the configured quantizer, or nil.
func (h *HNSW) Quantizer() quantization.Quantizer { return h.opts.Quantizer }

// Graph exposes the adjacency of one node for persistence and diagnostics.
// The returned slices are read-only views.
func (h *HNSW) Graph(id uint64) (levels [][]uint64, ok bool) {
	h.mu.RLock()
	idx, found := h.byExt[id]
	h.mu.RUnlock()
	if !found {
		return nil, false
	}
	n := h.getNode(idx)
	if n == nil {
		return nil, false
	}
	nodes := *h.nodes.Load()
	levels = make([][]uint64, n.level+1)
	for l := 0; l <= n.level; l++ {
		links := h.getLinks(idx, l)
		ext := make([]uint64, 0, len(links))
		for _, nb := range links {
			if int(nb.idx) < len(nodes) {
				ext = append(ext, nodes[nb.idx].ext)
			}
		}
		levels[l] = ext
	}
	return levels, true
}
