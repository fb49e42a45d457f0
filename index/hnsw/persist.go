package hnsw

import (
	"fmt"
	"io"

	"github.com/PromaChow/lance/artifact"
	"github.com/PromaChow/lance/index"
)

const artifactAlgo = "hnsw"

// Fingerprint captures the structural parameters an artifact must match.
func (h *HNSW) Fingerprint() string {
	fp := fmt.Sprintf("hnsw(dim=%d,m=%d,metric=%s)", h.opts.Dimension, h.opts.M, h.opts.Metric)
	if h.opts.Quantizer != nil {
		fp += "+" + h.opts.Quantizer.Fingerprint()
	}
	return fp
}

// Save writes the full graph (vectors, codes, adjacency, tombstones) as a
// versioned artifact. Concurrent inserts must be quiesced by the caller.
func (h *HNSW) Save(w io.Writer, codec artifact.Codec) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	nodes := *h.nodes.Load()
	g := &artifact.Graph{
		Dim:      h.opts.Dimension,
		Entry:    h.entry.Load(),
		MaxLevel: h.maxLevel.Load(),
		Nodes:    make([]artifact.GraphNode, len(nodes)),
	}

	for idx, n := range nodes {
		gn := artifact.GraphNode{
			ID:     n.ext,
			Level:  n.level,
			Vector: n.vec,
			Code:   n.code,
			Links:  make([][]artifact.GraphLink, n.level+1),
		}
		for l := 0; l <= n.level; l++ {
			links := h.getLinks(uint32(idx), l)
			layer := make([]artifact.GraphLink, len(links))
			for i, nb := range links {
				layer[i] = artifact.GraphLink{Target: nb.idx, Distance: nb.dist}
			}
			gn.Links[l] = layer
		}
		g.Nodes[idx] = gn
	}

	h.mu.RLock()
	g.Deleted = h.tombstones.ToArray()
	h.mu.RUnlock()

	return artifact.Write(w, artifactAlgo, h.Fingerprint(), codec, artifact.EncodeGraph(g))
}

// Load restores a graph saved by an index with the same parameters into an
// empty index. Quantizer state must be restored separately before calling
// Load when the index is quantized.
func (h *HNSW) Load(r io.Reader) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if len(*h.nodes.Load()) != 0 {
		return &index.ErrInvalidParameter{Param: "load", Reason: "index is not empty"}
	}

	payload, err := artifact.Read(r, artifactAlgo, h.Fingerprint())
	if err != nil {
		return err
	}
	g, err := artifact.DecodeGraph(payload)
	if err != nil {
		return err
	}
	if g.Dim != h.opts.Dimension {
		return &artifact.ErrFormatMismatch{Field: "payload", Detail: "dimension differs"}
	}

	restored := make([]*node, len(g.Nodes))
	byExt := make(map[uint64]uint32, len(g.Nodes))
	for idx := range g.Nodes {
		gn := &g.Nodes[idx]
		n := &node{
			ext:   gn.ID,
			level: gn.Level,
			vec:   gn.Vector,
			code:  gn.Code,
			links: make([][]neighbor, gn.Level+1),
		}
		for l, layer := range gn.Links {
			links := make([]neighbor, len(layer))
			for i, gl := range layer {
				if int(gl.Target) >= len(g.Nodes) {
					return &artifact.ErrFormatMismatch{Field: "payload", Detail: "link target out of range"}
				}
				links[i] = neighbor{idx: gl.Target, dist: gl.Distance}
			}
			n.links[l] = links
		}
		restored[idx] = n
		byExt[gn.ID] = uint32(idx)
	}

	h.nodes.Store(&restored)
	h.entry.Store(g.Entry)
	h.maxLevel.Store(g.MaxLevel)

	h.mu.Lock()
	h.byExt = byExt
	h.tombstones.Clear()
	h.tombstones.AddMany(g.Deleted)
	h.mu.Unlock()

	h.liveCnt.Store(int64(len(restored) - len(g.Deleted)))
	return nil
}
