package oracle

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	GTREE_TYPE       = "gtree"
	GTREE_HEADER     = "gtree.json"
	GTREE_PART       = "gtree-%03d.json"
	GTREE_PART_GLOB  = "gtree-*.json"
	CLASS_META       = "meta"
	CLASS_NODE       = "node"
	DEFAULT_PER_FILE = 1000
)

type treeHeader struct {
	Type      string   `json:"type" bson:"type"`
	Fanout    int      `json:"fanout" bson:"fanout"`
	LeafSize  int      `json:"leaf_size" bson:"leaf_size"`
	Symmetric bool     `json:"symmetric" bson:"symmetric"`
	Stops     int      `json:"stops" bson:"stops"`
	Nodes     int      `json:"nodes" bson:"nodes"`
	Parts     []string `json:"parts,omitempty" bson:"parts,omitempty"`
}

type nodeRecord struct {
	ID int32 `json:"id" bson:"id"`
	// 根节点为null
	Parent  *int32  `json:"parent" bson:"parent"`
	Stops   []int32 `json:"stops" bson:"stops"`
	Borders []int32 `json:"borders" bson:"borders"`
	// (from, to, duration)，按from、to排序
	Durations [][3]int32 `json:"durations" bson:"durations"`
}

type treeDocument[T any] struct {
	Class string `bson:"class"`
	Data  T      `bson:"data"`
}

func (t *GTree) header() treeHeader {
	return treeHeader{
		Type:      GTREE_TYPE,
		Fanout:    t.opts.Fanout,
		LeafSize:  t.opts.LeafSize,
		Symmetric: t.opts.Symmetric,
		Stops:     len(t.leafOf),
		Nodes:     len(t.nodes),
	}
}

func (t *GTree) records() []nodeRecord {
	return lo.Map(t.nodes, func(n GNode, _ int) nodeRecord {
		durations := make([][3]int32, 0, len(n.Durations))
		for k, v := range n.Durations {
			durations = append(durations, [3]int32{k.From, k.To, v})
		}
		slices.SortFunc(durations, func(a, b [3]int32) int {
			if c := cmp.Compare(a[0], b[0]); c != 0 {
				return c
			}
			return cmp.Compare(a[1], b[1])
		})
		var parent *int32
		if n.Parent >= 0 {
			parent = lo.ToPtr(n.Parent)
		}
		return nodeRecord{ID: n.ID, Parent: parent, Stops: n.Stops, Borders: n.Borders, Durations: durations}
	})
}

// 写入目录：头文件及若干分片，每个分片最多nodesPerFile个节点
func (t *GTree) ExportFiles(dir string, nodesPerFile int) error {
	if nodesPerFile <= 0 {
		nodesPerFile = DEFAULT_PER_FILE
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	// 清除上次导出的头文件与分片，导出中断时目录视为空缓存
	if err := os.Remove(filepath.Join(dir, GTREE_HEADER)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	stale, err := filepath.Glob(filepath.Join(dir, GTREE_PART_GLOB))
	if err != nil {
		return err
	}
	for _, name := range stale {
		if err := os.Remove(name); err != nil {
			return err
		}
	}
	h := t.header()
	for i, chunk := range lo.Chunk(t.records(), nodesPerFile) {
		name := fmt.Sprintf(GTREE_PART, i)
		if err := writeJSON(filepath.Join(dir, name), chunk); err != nil {
			return err
		}
		h.Parts = append(h.Parts, name)
	}
	if err := writeJSON(filepath.Join(dir, GTREE_HEADER), h); err != nil {
		return err
	}
	log.Infof("export gtree to %s: %d nodes in %d parts", dir, h.Nodes, len(h.Parts))
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformedTree, path, err)
	}
	return nil
}

func checkHeader(h treeHeader, g *StaticGraph, opts GTreeOptions) error {
	if h.Type != GTREE_TYPE {
		return fmt.Errorf("%w: type %q", ErrMalformedTree, h.Type)
	}
	if h.Fanout != opts.Fanout || h.LeafSize != opts.LeafSize || h.Symmetric != opts.Symmetric {
		return fmt.Errorf("%w: stored fanout=%d leaf_size=%d symmetric=%v, expect fanout=%d leaf_size=%d symmetric=%v",
			ErrParameterMismatch, h.Fanout, h.LeafSize, h.Symmetric, opts.Fanout, opts.LeafSize, opts.Symmetric)
	}
	if h.Stops != g.NodeCount() {
		return fmt.Errorf("%w: stored %d stops, graph has %d", ErrParameterMismatch, h.Stops, g.NodeCount())
	}
	return nil
}

// 从目录读取，参数不一致或数据不完整时返回错误且不产生部分状态
func ImportFiles(dir string, g *StaticGraph, opts GTreeOptions) (*GTree, error) {
	var h treeHeader
	if err := readJSON(filepath.Join(dir, GTREE_HEADER), &h); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTreeNotFound, dir)
		}
		return nil, err
	}
	if err := checkHeader(h, g, opts); err != nil {
		return nil, err
	}
	records := make([]nodeRecord, 0, h.Nodes)
	for _, part := range h.Parts {
		var chunk []nodeRecord
		if err := readJSON(filepath.Join(dir, filepath.Base(part)), &chunk); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: missing part %s", ErrMalformedTree, part)
			}
			return nil, err
		}
		records = append(records, chunk...)
	}
	t, err := fromRecords(h, records, g, opts)
	if err != nil {
		return nil, err
	}
	log.Infof("import gtree from %s: %d nodes", dir, len(t.nodes))
	return t, nil
}

func fromRecords(h treeHeader, records []nodeRecord, g *StaticGraph, opts GTreeOptions) (*GTree, error) {
	if len(records) != h.Nodes || len(records) == 0 {
		return nil, fmt.Errorf("%w: expect %d nodes, got %d", ErrMalformedTree, h.Nodes, len(records))
	}
	slices.SortFunc(records, func(a, b nodeRecord) int { return cmp.Compare(a.ID, b.ID) })
	stops := int32(h.Stops)
	t := &GTree{
		opts:   opts,
		nodes:  make([]GNode, len(records)),
		leafOf: make([]int32, stops),
		g:      g,
	}
	valid := func(ids []int32) bool {
		return lo.EveryBy(ids, func(id int32) bool { return id >= 0 && id < stops })
	}
	for i, r := range records {
		if r.ID != int32(i) {
			return nil, fmt.Errorf("%w: node id %d at index %d", ErrMalformedTree, r.ID, i)
		}
		parent := int32(-1)
		if r.Parent != nil {
			parent = *r.Parent
		}
		if (i == 0) != (parent < 0) || parent >= r.ID {
			return nil, fmt.Errorf("%w: node %d has parent %d", ErrMalformedTree, r.ID, parent)
		}
		if !valid(r.Stops) || !valid(r.Borders) {
			return nil, fmt.Errorf("%w: node %d refers to unknown stop", ErrMalformedTree, r.ID)
		}
		n := GNode{ID: r.ID, Parent: parent, Stops: r.Stops, Borders: r.Borders, Durations: make(map[StopPair]int32, len(r.Durations))}
		for _, d := range r.Durations {
			if !valid(d[:2]) {
				return nil, fmt.Errorf("%w: node %d has duration for unknown stop", ErrMalformedTree, r.ID)
			}
			n.Durations[StopPair{d[0], d[1]}] = d[2]
		}
		if parent >= 0 {
			n.Depth = t.nodes[parent].Depth + 1
			t.nodes[parent].Children = append(t.nodes[parent].Children, r.ID)
		}
		t.nodes[i] = n
	}
	// 叶节点恰好划分所有站点
	seen := make([]bool, stops)
	for _, n := range t.nodes {
		if !n.IsLeaf() {
			if total := lo.SumBy(n.Children, func(c int32) int { return len(t.nodes[c].Stops) }); total != len(n.Stops) {
				return nil, fmt.Errorf("%w: node %d has %d stops, children have %d", ErrMalformedTree, n.ID, len(n.Stops), total)
			}
			continue
		}
		for _, stop := range n.Stops {
			if seen[stop] {
				return nil, fmt.Errorf("%w: stop %d in more than one leaf", ErrMalformedTree, stop)
			}
			seen[stop] = true
			t.leafOf[stop] = n.ID
		}
	}
	if i := slices.Index(seen, false); i >= 0 {
		return nil, fmt.Errorf("%w: stop %d in no leaf", ErrMalformedTree, i)
	}
	return t, nil
}

// 覆盖写入mongodb：一条meta记录与每个节点一条node记录
func (t *GTree) StoreMongo(ctx context.Context, coll *mongo.Collection) error {
	if _, err := coll.DeleteMany(ctx, bson.M{}); err != nil {
		return err
	}
	if _, err := coll.InsertOne(ctx, treeDocument[treeHeader]{Class: CLASS_META, Data: t.header()}); err != nil {
		return err
	}
	docs := lo.Map(t.records(), func(r nodeRecord, _ int) any { return treeDocument[nodeRecord]{Class: CLASS_NODE, Data: r} })
	if _, err := coll.InsertMany(ctx, docs); err != nil {
		return err
	}
	log.Infof("store gtree to mongodb %s.%s: %d nodes", coll.Database().Name(), coll.Name(), len(docs))
	return nil
}

func LoadMongo(ctx context.Context, coll *mongo.Collection, g *StaticGraph, opts GTreeOptions) (*GTree, error) {
	var meta treeDocument[treeHeader]
	if err := coll.FindOne(ctx, bson.M{"class": CLASS_META}).Decode(&meta); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s.%s", ErrTreeNotFound, coll.Database().Name(), coll.Name())
		}
		return nil, fmt.Errorf("find gtree meta: %w", err)
	}
	if err := checkHeader(meta.Data, g, opts); err != nil {
		return nil, err
	}
	cur, err := coll.Find(ctx, bson.M{"class": CLASS_NODE})
	if err != nil {
		return nil, fmt.Errorf("find gtree nodes: %w", err)
	}
	defer cur.Close(ctx)
	var docs []treeDocument[nodeRecord]
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTree, err)
	}
	records := lo.Map(docs, func(d treeDocument[nodeRecord], _ int) nodeRecord { return d.Data })
	t, err := fromRecords(meta.Data, records, g, opts)
	if err != nil {
		return nil, err
	}
	log.Infof("load gtree from mongodb %s.%s: %d nodes", coll.Database().Name(), coll.Name(), len(t.nodes))
	return t, nil
}
