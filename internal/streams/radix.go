// A compressed bitwise trie (Array Mapped Tree) over the 22-symbol
// base-64 encoding of an EntryID.
//
// Each internal node has a 64-bit bitmap flagging which of its 64 possible
// children exist; `bits.OnesCount64` over the bits below a given offset gives
// that child's index into the `children` slice (a classic AMT/HAMT trick).
// Runs of single-child nodes are compressed into `extraSymbols` so the tree
// stays shallow for mostly-sequential timestamps.
//
// Because internal keys are fixed-length and zero-padded, for any node all
// descendants via a lower bitmap offset sort below all descendants via a
// higher one. That invariant is what makes range queries a tree walk instead
// of a scan.
package streams

import "math/bits"

// Entry is one stored stream record.
type Entry struct {
	ID     EntryID
	Fields []FieldValue
}

// FieldValue is one ordered field of a stream entry.
type FieldValue struct {
	Name  []byte
	Value []byte
}

type rxNode struct {
	entry        *Entry
	bitmap       uint64
	extraSymbols []uint8
	children     []rxNode
}

func (n *rxNode) create(key []uint8) *rxNode {
	node, failIdx, extraFailIdx := n.longestCommonPrefix(key)
	if failIdx == -1 {
		return node
	}

	var newNode *rxNode
	if extraFailIdx == -1 {
		offset := key[failIdx]
		node.bitmap |= uint64(1) << offset
		idx := childIndex(node.bitmap, offset)
		node.insertChildSlot(idx)
		newNode = &node.children[idx]
	} else {
		splitNode := *node
		splitNode.extraSymbols = node.extraSymbols[extraFailIdx+1:]

		splitOffset := node.extraSymbols[extraFailIdx]
		newOffset := key[failIdx]
		if newOffset > splitOffset {
			node.children = []rxNode{splitNode, {}}
			newNode = &node.children[1]
		} else {
			node.children = []rxNode{{}, splitNode}
			newNode = &node.children[0]
		}
		node.extraSymbols = node.extraSymbols[:extraFailIdx]
		node.bitmap = uint64(1)<<splitOffset | uint64(1)<<newOffset
		node.entry = nil
	}

	if rest := key[failIdx+1:]; len(rest) > 0 {
		newNode.extraSymbols = append([]uint8(nil), rest...)
	}
	return newNode
}

// longestCommonPrefix walks the tree as far as key agrees with it. If the
// walk consumes the whole key, failIdx is -1 and bestMatch is an exact leaf.
// Otherwise failIdx is the index into key where the walk diverged, and
// extraFailIdx (if not -1) is the matching index into bestMatch.extraSymbols.
func (n *rxNode) longestCommonPrefix(key []uint8) (bestMatch *rxNode, failIdx int, extraFailIdx int) {
	cur := n
	for depth := 0; ; {
		for i, sym := range cur.extraSymbols {
			if sym != key[depth+i] {
				return cur, depth + i, i
			}
		}
		depth += len(cur.extraSymbols)

		if depth == len(key) {
			return cur, -1, -1
		}

		offset := key[depth]
		mask := uint64(1) << offset
		if cur.bitmap&mask == 0 {
			return cur, depth, -1
		}
		cur = &cur.children[childIndex(cur.bitmap, offset)]
		depth++
	}
}

// rangeEntries returns entries with a key in [fromKey, toKey], ascending.
func (n *rxNode) rangeEntries(fromKey, toKey []uint8) []Entry {
	cur := n
	for depth := 0; ; {
		for i, sym := range cur.extraSymbols {
			fromSym, toSym := fromKey[depth+i], toKey[depth+i]
			switch {
			case fromSym == toSym && toSym == sym:
				continue
			case fromSym == toSym:
				return nil
			case fromSym < sym && sym < toSym:
				return cur.collectLeaves()
			case sym < fromSym || toSym < sym:
				return nil
			case sym == fromSym:
				return cur.higherOrEqual(fromKey[depth:])
			default: // sym == toSym
				return cur.lowerOrEqual(toKey[depth:])
			}
		}
		depth += len(cur.extraSymbols)

		if depth == len(fromKey) {
			return []Entry{*cur.entry}
		}

		if fromKey[depth] == toKey[depth] {
			mask := uint64(1) << fromKey[depth]
			if cur.bitmap&mask == 0 {
				return nil
			}
			cur = &cur.children[childIndex(cur.bitmap, fromKey[depth])]
			depth++
			continue
		}

		var result []Entry
		if mask := uint64(1) << fromKey[depth]; cur.bitmap&mask != 0 {
			child := &cur.children[childIndex(cur.bitmap, fromKey[depth])]
			result = append(result, child.higherOrEqual(fromKey[depth+1:])...)
		}
		for sym := fromKey[depth] + 1; sym < toKey[depth]; sym++ {
			if mask := uint64(1) << sym; cur.bitmap&mask != 0 {
				child := &cur.children[childIndex(cur.bitmap, sym)]
				result = append(result, child.collectLeaves()...)
			}
		}
		if mask := uint64(1) << toKey[depth]; cur.bitmap&mask != 0 {
			child := &cur.children[childIndex(cur.bitmap, toKey[depth])]
			result = append(result, child.lowerOrEqual(toKey[depth+1:])...)
		}
		return result
	}
}

// higherOrEqual returns, under n, entries with key >= key, ascending.
func (n *rxNode) higherOrEqual(key []uint8) []Entry {
	nodes := n.siblingsFrom(key, true)
	var out []Entry
	for i := len(nodes) - 1; i >= 0; i-- {
		out = append(out, nodes[i].collectLeaves()...)
	}
	return out
}

// lowerOrEqual returns, under n, entries with key <= key, ascending.
func (n *rxNode) lowerOrEqual(key []uint8) []Entry {
	nodes := n.siblingsFrom(key, false)
	var out []Entry
	for _, nd := range nodes {
		out = append(out, nd.collectLeaves()...)
	}
	return out
}

// siblingsFrom does a single DFS along key, collecting, at each level,
// whichever sibling subtrees are wholly on the "higher" (or "lower") side of
// key. Returned highest-to-lowest for higher=true, lowest-to-highest for
// higher=false.
func (n *rxNode) siblingsFrom(key []uint8, higher bool) []*rxNode {
	var result []*rxNode
	cur := n
	for depth := 0; ; {
		for i, sym := range cur.extraSymbols {
			k := key[depth+i]
			if higher {
				if sym < k {
					return result
				} else if sym > k {
					return append(result, cur)
				}
			} else {
				if sym > k {
					return result
				} else if sym < k {
					return append(result, cur)
				}
			}
		}
		depth += len(cur.extraSymbols)

		if depth == len(key) {
			return append(result, cur)
		}

		offset := key[depth]
		mask := uint64(1) << offset
		idx := childIndex(cur.bitmap, offset)

		if cur.bitmap&mask == 0 {
			if higher {
				return appendReverse(result, cur.children[idx:])
			}
			return appendForward(result, cur.children[:idx])
		}

		if higher {
			result = appendReverse(result, cur.children[idx+1:])
		} else {
			result = appendForward(result, cur.children[:idx])
		}
		cur = &cur.children[idx]
		depth++
	}
}

func appendForward(dst []*rxNode, src []rxNode) []*rxNode {
	for i := range src {
		dst = append(dst, &src[i])
	}
	return dst
}

func appendReverse(dst []*rxNode, src []rxNode) []*rxNode {
	for i := len(src) - 1; i >= 0; i-- {
		dst = append(dst, &src[i])
	}
	return dst
}

func (n *rxNode) collectLeaves() []Entry {
	var out []Entry
	stack := []*rxNode{n}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node.entry != nil {
			out = append(out, *node.entry)
			continue
		}
		stack = appendReverse(stack, node.children)
	}
	return out
}

func (n *rxNode) insertChildSlot(idx int) {
	if n.children == nil {
		n.children = []rxNode{{}}
		return
	}
	if len(n.children)+1 > cap(n.children) {
		grown := make([]rxNode, len(n.children)+1, cap(n.children)+2)
		copy(grown, n.children[:idx])
		copy(grown[idx+1:], n.children[idx:])
		n.children = grown
		return
	}
	n.children = n.children[:len(n.children)+1]
	copy(n.children[idx+1:], n.children[idx:])
	n.children[idx] = rxNode{}
}

func childIndex(bitmap uint64, offset uint8) int {
	if offset == 0 {
		return 0
	}
	belowMask := maxUint64 >> (64 - offset)
	return bits.OnesCount64(bitmap & belowMask)
}
