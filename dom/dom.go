// Package dom computes immediate dominators, the dominator tree, and
// constant-time dominance queries over a directed graph rooted at vertex 0,
// using the Lengauer-Tarjan algorithm with link/eval path compression. It
// is grounded field-for-field on the original implementation's
// dominator_eval.{h,cc} (DFS/AssignSemi/ComputeDom/TraverseTree/
// RearrangeTree/Eval/Compress/Link), with one documented fix: loop bounds
// use the DFS-reachable count rather than the raw vertex count, so that
// vertices never visited from 0 are never touched by AssignSemi or
// ComputeDom (see SPEC_FULL.md §9, "dominator_eval appears in two
// versions...").
package dom

import "sort"

// Edges is an adjacency list indexed by vertex id; Edges[v] holds v's
// CFG successors. Vertex 0 is always the entry.
type Edges [][]int32

// Engine holds the dominator computation's state and results for one
// graph. It is constructed once per method and never reused.
type Engine struct {
	Outbound Edges
	Inbound  Edges

	Semi     []int
	Parent   []int
	Preorder []int
	Dom      []int
	DomTree  [][]int

	enter []int
	exit  []int

	ancestor       []int
	label          []int
	postorder      []int
	postorderIndex []int
	bucket         [][]int
	time           int
	reachableCount int
}

// New constructs an Engine over outbound. Call Compute before using any
// of its result fields.
func New(outbound Edges) *Engine {
	n := len(outbound)
	e := &Engine{
		Outbound:       outbound,
		Inbound:        make(Edges, n),
		Semi:           fillInt(n, -1),
		Parent:         fillInt(n, -1),
		Preorder:       fillInt(n, -1),
		Dom:            fillInt(n, -1),
		DomTree:        make([][]int, n),
		enter:          make([]int, n),
		exit:           make([]int, n),
		ancestor:       fillInt(n, -1),
		label:          make([]int, n),
		postorderIndex: make([]int, n),
		bucket:         make([][]int, n),
	}
	for i := range e.label {
		e.label[i] = i
	}
	return e
}

func fillInt(n int, v int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// Compute runs the full Lengauer-Tarjan pipeline: DFS, semidominator
// computation, dominator finalization, and the dominator-tree traversal
// that fills Enter/Exit.
func (e *Engine) Compute() {
	if len(e.Outbound) == 0 {
		return
	}
	e.dfs(0)
	e.reachableCount = e.time
	for i, v := range e.postorder {
		e.postorderIndex[v] = i
	}
	e.assignSemi()
	e.computeDom()
	e.time = 0
	e.traverseTree(0)
	e.rearrangeTree()
}

func (e *Engine) dfs(v int) {
	e.Semi[v] = e.time
	e.Preorder[e.time] = v
	e.time++
	for _, w32 := range e.Outbound[v] {
		w := int(w32)
		if e.Semi[w] == -1 {
			e.Parent[w] = v
			e.dfs(w)
		}
		e.Inbound[w] = append(e.Inbound[w], int32(v))
	}
	e.postorder = append(e.postorder, v)
}

func (e *Engine) assignSemi() {
	for t := e.reachableCount - 1; t >= 1; t-- {
		w := e.Preorder[t]
		for _, v32 := range e.Inbound[w] {
			v := int(v32)
			u := e.eval(v)
			if e.Semi[u] < e.Semi[w] {
				e.Semi[w] = e.Semi[u]
			}
		}
		e.bucket[e.Preorder[e.Semi[w]]] = append(e.bucket[e.Preorder[e.Semi[w]]], w)
		e.link(e.Parent[w], w)
		for _, v := range e.bucket[e.Parent[w]] {
			u := e.eval(v)
			if e.Semi[u] < e.Semi[v] {
				e.Dom[v] = u
			} else {
				e.Dom[v] = e.Parent[w]
			}
		}
		e.bucket[e.Parent[w]] = e.bucket[e.Parent[w]][:0]
	}
}

func (e *Engine) computeDom() {
	for t := 1; t < e.reachableCount; t++ {
		w := e.Preorder[t]
		if e.Dom[w] != e.Preorder[e.Semi[w]] {
			e.Dom[w] = e.Dom[e.Dom[w]]
		}
		e.DomTree[e.Dom[w]] = append(e.DomTree[e.Dom[w]], w)
	}
}

func (e *Engine) traverseTree(v int) {
	e.enter[v] = e.time
	e.time++
	for _, w := range e.DomTree[v] {
		e.traverseTree(w)
	}
	e.exit[v] = e.time
	e.time++
}

func (e *Engine) rearrangeTree() {
	for v := range e.DomTree {
		children := e.DomTree[v]
		sort.Slice(children, func(i, j int) bool {
			return e.isBefore(children[i], children[j])
		})
	}
}

// isBefore orders two vertices by reverse CFG-postorder, matching source
// order for the common case of a straight-line fallthrough chain.
func (e *Engine) isBefore(v, w int) bool {
	return e.postorderIndex[v] > e.postorderIndex[w]
}

func (e *Engine) link(v, w int) {
	e.ancestor[w] = v
}

func (e *Engine) eval(v int) int {
	if e.ancestor[v] == -1 {
		return v
	}
	e.compress(v)
	return e.label[v]
}

func (e *Engine) compress(v int) {
	if e.ancestor[e.ancestor[v]] == -1 {
		return
	}
	e.compress(e.ancestor[v])
	if e.Semi[e.label[e.ancestor[v]]] < e.Semi[e.label[v]] {
		e.label[v] = e.label[e.ancestor[v]]
	}
	e.ancestor[v] = e.ancestor[e.ancestor[v]]
}

// IsDominated reports whether v is dominated by "by" (non-strict: every
// vertex dominates itself), using the dominator-tree enter/exit interval.
// A vertex not reachable from 0 is neither dominated nor dominating.
func (e *Engine) IsDominated(v, by int) bool {
	if !e.Reachable(v) || !e.Reachable(by) {
		return false
	}
	return e.enter[by] <= e.enter[v] && e.enter[v] < e.exit[by]
}

// Enter returns the dominator-tree DFS entry time of v.
func (e *Engine) Enter(v int) int { return e.enter[v] }

// Exit returns the dominator-tree DFS exit time of v.
func (e *Engine) Exit(v int) int { return e.exit[v] }

// Reachable reports whether v was visited by the initial DFS from 0.
func (e *Engine) Reachable(v int) bool { return e.Semi[v] != -1 }
