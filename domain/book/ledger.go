package book

type color uint8

const (
	red   color = 0
	black color = 1
)

// Child directions. The mirror of dir is 1-dir.
const (
	left  = 0
	right = 1
)

// node holds exactly one live order. Nodes never swap payloads during
// rebalancing, so a *node stays valid as a locator until it is removed.
type node struct {
	order  Order
	color  color
	child  [2]*node
	parent *node
}

// ledger is a red-black tree of the live orders of one symbol and side,
// ascending by Order.Less.
type ledger struct {
	root *node
	nil  *node // sentinel (black)
	size int
}

func newLedger() *ledger {
	nilNode := &node{color: black}
	return &ledger{root: nilNode, nil: nilNode}
}

func (t *ledger) Len() int { return t.size }

// insert places o at its sorted position and returns its node.
func (t *ledger) insert(o Order) *node {
	y := t.nil
	dir := left
	for x := t.root; x != t.nil; x = x.child[dir] {
		y = x
		dir = right
		if o.Less(x.order) {
			dir = left
		}
	}

	z := &node{order: o, color: red, child: [2]*node{t.nil, t.nil}, parent: y}
	if y == t.nil {
		t.root = z
	} else {
		y.child[dir] = z
	}
	t.insertFixup(z)
	t.size++
	return z
}

// remove unlinks n. n must belong to t.
func (t *ledger) remove(n *node) {
	t.deleteNode(n)
	t.size--
	n.child[left], n.child[right], n.parent = nil, nil, nil
}

// replace swaps the order held by n for o when o still sorts strictly
// between n's neighbours. It reports whether the swap happened; on false
// the tree is untouched.
func (t *ledger) replace(n *node, o Order) bool {
	if p := t.step(n, left); p != t.nil && !p.order.Less(o) {
		return false
	}
	if s := t.step(n, right); s != t.nil && !o.Less(s.order) {
		return false
	}
	n.order = o
	return true
}

// ascend visits orders from the lowest key until fn returns false.
func (t *ledger) ascend(fn func(Order) bool) { t.walk(left, fn) }

// descend visits orders from the highest key until fn returns false.
func (t *ledger) descend(fn func(Order) bool) { t.walk(right, fn) }

func (t *ledger) walk(from int, fn func(Order) bool) {
	for n := t.extreme(t.root, from); n != t.nil; n = t.step(n, 1-from) {
		if !fn(n.order) {
			return
		}
	}
}

/******************** Internal helpers ********************/

// extreme returns the leftmost (dir=left) or rightmost node under n.
func (t *ledger) extreme(n *node, dir int) *node {
	if n == t.nil {
		return t.nil
	}
	for n.child[dir] != t.nil {
		n = n.child[dir]
	}
	return n
}

// step returns the in-order successor (dir=right) or predecessor
// (dir=left) of n, or the sentinel.
func (t *ledger) step(n *node, dir int) *node {
	if n.child[dir] != t.nil {
		return t.extreme(n.child[dir], 1-dir)
	}
	p := n.parent
	for p != t.nil && n == p.child[dir] {
		n = p
		p = p.parent
	}
	return p
}

func (t *ledger) dirOf(n *node) int {
	if n == n.parent.child[left] {
		return left
	}
	return right
}

// rotate turns x down towards dir: rotate(x, left) is a left rotation.
func (t *ledger) rotate(x *node, dir int) {
	y := x.child[1-dir]
	x.child[1-dir] = y.child[dir]
	if y.child[dir] != t.nil {
		y.child[dir].parent = x
	}
	t.transplant(x, y)
	y.child[dir] = x
	x.parent = y
}

func (t *ledger) insertFixup(z *node) {
	for z.parent.color == red {
		d := t.dirOf(z.parent)
		uncle := z.parent.parent.child[1-d]
		if uncle.color == red {
			z.parent.color = black
			uncle.color = black
			z.parent.parent.color = red
			z = z.parent.parent
			continue
		}
		if z == z.parent.child[1-d] {
			z = z.parent
			t.rotate(z, d)
		}
		z.parent.color = black
		z.parent.parent.color = red
		t.rotate(z.parent.parent, 1-d)
	}
	t.root.color = black
}

// transplant hangs v where u was. v.parent is set even for the sentinel.
func (t *ledger) transplant(u, v *node) {
	if u.parent == t.nil {
		t.root = v
	} else {
		u.parent.child[t.dirOf(u)] = v
	}
	v.parent = u.parent
}

// deleteNode relinks the successor into z's place instead of copying its
// payload, which keeps every other node's locator valid.
func (t *ledger) deleteNode(z *node) {
	y := z
	yOrigColor := y.color
	var x *node

	switch {
	case z.child[left] == t.nil:
		x = z.child[right]
		t.transplant(z, x)
	case z.child[right] == t.nil:
		x = z.child[left]
		t.transplant(z, x)
	default:
		y = t.extreme(z.child[right], left)
		yOrigColor = y.color
		x = y.child[right]
		if y.parent == z {
			x.parent = y
		} else {
			t.transplant(y, x)
			y.child[right] = z.child[right]
			y.child[right].parent = y
		}
		t.transplant(z, y)
		y.child[left] = z.child[left]
		y.child[left].parent = y
		y.color = z.color
	}

	if yOrigColor == black {
		t.deleteFixup(x)
	}
}

func (t *ledger) deleteFixup(x *node) {
	for x != t.root && x.color == black {
		d := left
		if x != x.parent.child[left] {
			d = right
		}
		w := x.parent.child[1-d]
		if w.color == red {
			w.color = black
			x.parent.color = red
			t.rotate(x.parent, d)
			w = x.parent.child[1-d]
		}
		if w.child[d].color == black && w.child[1-d].color == black {
			w.color = red
			x = x.parent
			continue
		}
		if w.child[1-d].color == black {
			w.child[d].color = black
			w.color = red
			t.rotate(w, 1-d)
			w = x.parent.child[1-d]
		}
		w.color = x.parent.color
		x.parent.color = black
		w.child[1-d].color = black
		t.rotate(x.parent, d)
		x = t.root
	}
	x.color = black
}
