package artifact

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Payload encoders are deliberately dumb: fixed little-endian layouts with
// length prefixes, no reflection. Corruption is caught by the envelope
// checksum; the decoders here only guard against truncation.

type payloadWriter struct {
	buf []byte
}

func (w *payloadWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *payloadWriter) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *payloadWriter) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *payloadWriter) f32(v float32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}

func (w *payloadWriter) f32s(vs []float32) {
	for _, v := range vs {
		w.f32(v)
	}
}

func (w *payloadWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

type payloadReader struct {
	buf []byte
	off int
	err error
}

func (r *payloadReader) fail(what string) {
	if r.err == nil {
		r.err = &ErrFormatMismatch{Field: "payload", Detail: fmt.Sprintf("truncated %s", what)}
	}
}

func (r *payloadReader) u8(what string) uint8 {
	if r.err != nil || r.off+1 > len(r.buf) {
		r.fail(what)
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *payloadReader) u32(what string) uint32 {
	if r.err != nil || r.off+4 > len(r.buf) {
		r.fail(what)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *payloadReader) u64(what string) uint64 {
	if r.err != nil || r.off+8 > len(r.buf) {
		r.fail(what)
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *payloadReader) f32(what string) float32 {
	return math.Float32frombits(r.u32(what))
}

func (r *payloadReader) f32s(n int, what string) []float32 {
	if r.err != nil || r.off+4*n > len(r.buf) {
		r.fail(what)
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(r.buf[r.off+4*i:]))
	}
	r.off += 4 * n
	return out
}

func (r *payloadReader) bytes(what string) []byte {
	n := int(r.u32(what))
	if r.err != nil || r.off+n > len(r.buf) {
		r.fail(what)
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:])
	r.off += n
	return out
}

// Centroids is the payload of a trained coarse partitioner.
type Centroids struct {
	Dim  int
	K    int
	Data []float32 // K*Dim, row-major
}

// EncodeCentroids serializes a centroid table.
func EncodeCentroids(c *Centroids) []byte {
	w := &payloadWriter{buf: make([]byte, 0, 8+4*len(c.Data))}
	w.u32(uint32(c.Dim))
	w.u32(uint32(c.K))
	w.f32s(c.Data)
	return w.buf
}

// DecodeCentroids parses a centroid table payload.
func DecodeCentroids(buf []byte) (*Centroids, error) {
	r := &payloadReader{buf: buf}
	c := &Centroids{
		Dim: int(r.u32("dim")),
		K:   int(r.u32("k")),
	}
	c.Data = r.f32s(c.Dim*c.K, "centroids")
	return c, r.err
}

// PQCodebooks is the payload of a trained product quantizer.
type PQCodebooks struct {
	Dim       int
	M         int
	K         int
	Codebooks [][]float32 // M entries of K*(Dim/M) floats each
}

// EncodePQCodebooks serializes product-quantizer codebooks.
func EncodePQCodebooks(p *PQCodebooks) []byte {
	w := &payloadWriter{}
	w.u32(uint32(p.Dim))
	w.u32(uint32(p.M))
	w.u32(uint32(p.K))
	for _, cb := range p.Codebooks {
		w.f32s(cb)
	}
	return w.buf
}

// DecodePQCodebooks parses product-quantizer codebooks.
func DecodePQCodebooks(buf []byte) (*PQCodebooks, error) {
	r := &payloadReader{buf: buf}
	p := &PQCodebooks{
		Dim: int(r.u32("dim")),
		M:   int(r.u32("m")),
		K:   int(r.u32("k")),
	}
	if r.err != nil {
		return nil, r.err
	}
	if p.M <= 0 || p.Dim <= 0 || p.Dim%p.M != 0 {
		return nil, &ErrFormatMismatch{Field: "payload", Detail: "inconsistent pq shape"}
	}
	subDim := p.Dim / p.M
	p.Codebooks = make([][]float32, p.M)
	for s := range p.Codebooks {
		p.Codebooks[s] = r.f32s(p.K*subDim, "codebook")
	}
	return p, r.err
}

// SQParams is the payload of a trained scalar quantizer.
type SQParams struct {
	Dim    int
	Bits   int
	Scale  []float32
	Offset []float32
}

// EncodeSQParams serializes scalar-quantizer parameters.
func EncodeSQParams(p *SQParams) []byte {
	w := &payloadWriter{}
	w.u32(uint32(p.Dim))
	w.u8(uint8(p.Bits))
	w.f32s(p.Scale)
	w.f32s(p.Offset)
	return w.buf
}

// DecodeSQParams parses scalar-quantizer parameters.
func DecodeSQParams(buf []byte) (*SQParams, error) {
	r := &payloadReader{buf: buf}
	p := &SQParams{
		Dim:  int(r.u32("dim")),
		Bits: int(r.u8("bits")),
	}
	p.Scale = r.f32s(p.Dim, "scale")
	p.Offset = r.f32s(p.Dim, "offset")
	return p, r.err
}

// GraphLink is one edge of a persisted graph node.
type GraphLink struct {
	Target   uint32
	Distance float32
}

// GraphNode is one persisted graph node: its row id, stored vector,
// optional quantized code, and per-layer adjacency in internal indexes.
type GraphNode struct {
	ID     uint64
	Level  int
	Vector []float32
	Code   []byte
	Links  [][]GraphLink
}

// Graph is the payload of an HNSW index: nodes in internal order plus the
// entry point and tombstoned row ids.
type Graph struct {
	Dim      int
	Entry    int64
	MaxLevel int32
	Nodes    []GraphNode
	Deleted  []uint64
}

// EncodeGraph serializes a graph payload.
func EncodeGraph(g *Graph) []byte {
	w := &payloadWriter{}
	w.u32(uint32(g.Dim))
	w.u64(uint64(g.Entry))
	w.u32(uint32(g.MaxLevel))
	w.u64(uint64(len(g.Nodes)))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		w.u64(n.ID)
		w.u32(uint32(n.Level))
		w.f32s(n.Vector)
		w.bytes(n.Code)
		for _, layer := range n.Links {
			w.u32(uint32(len(layer)))
			for _, l := range layer {
				w.u32(l.Target)
				w.f32(l.Distance)
			}
		}
	}
	w.u64(uint64(len(g.Deleted)))
	for _, id := range g.Deleted {
		w.u64(id)
	}
	return w.buf
}

// DecodeGraph parses a graph payload.
func DecodeGraph(buf []byte) (*Graph, error) {
	r := &payloadReader{buf: buf}
	g := &Graph{
		Dim:      int(r.u32("dim")),
		Entry:    int64(r.u64("entry")),
		MaxLevel: int32(r.u32("maxLevel")),
	}
	numNodes := int(r.u64("node count"))
	if r.err != nil {
		return nil, r.err
	}
	g.Nodes = make([]GraphNode, numNodes)
	for i := range g.Nodes {
		n := &g.Nodes[i]
		n.ID = r.u64("node id")
		n.Level = int(r.u32("node level"))
		n.Vector = r.f32s(g.Dim, "node vector")
		n.Code = r.bytes("node code")
		if r.err != nil {
			return nil, r.err
		}
		n.Links = make([][]GraphLink, n.Level+1)
		for l := range n.Links {
			cnt := int(r.u32("link count"))
			if r.err != nil {
				return nil, r.err
			}
			layer := make([]GraphLink, cnt)
			for j := range layer {
				layer[j].Target = r.u32("link target")
				layer[j].Distance = r.f32("link distance")
			}
			n.Links[l] = layer
		}
	}
	numDeleted := int(r.u64("tombstone count"))
	if r.err != nil {
		return nil, r.err
	}
	g.Deleted = make([]uint64, numDeleted)
	for i := range g.Deleted {
		g.Deleted[i] = r.u64("tombstone")
	}
	return g, r.err
}
