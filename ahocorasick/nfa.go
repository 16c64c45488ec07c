package ahocorasick

import "sort"

type stateID uint32

const (
	failedStateID stateID = 0
	startStateID  stateID = 1
)

type patternMatch struct {
	PatternID     int
	PatternLength int
}

type sparseTransition struct {
	b byte
	s stateID
}

// transitions is dense (one slot per byte) near the root where states have
// many children and sparse deeper in the trie.
type transitions struct {
	dense  []stateID
	sparse []sparseTransition
}

func (t *transitions) get(b byte) stateID {
	if t.dense != nil {
		return t.dense[b]
	}
	i := sort.Search(len(t.sparse), func(i int) bool { return t.sparse[i].b >= b })
	if i < len(t.sparse) && t.sparse[i].b == b {
		return t.sparse[i].s
	}
	return failedStateID
}

func (t *transitions) set(b byte, s stateID) {
	if t.dense != nil {
		t.dense[b] = s
		return
	}
	i := sort.Search(len(t.sparse), func(i int) bool { return t.sparse[i].b >= b })
	if i < len(t.sparse) && t.sparse[i].b == b {
		t.sparse[i].s = s
		return
	}
	t.sparse = append(t.sparse, sparseTransition{})
	copy(t.sparse[i+1:], t.sparse[i:])
	t.sparse[i] = sparseTransition{b: b, s: s}
}

type state struct {
	trans   transitions
	fail    stateID
	matches []patternMatch
	depth   int
}

type iNFA struct {
	maxPatternLen int
	patternCount  int
	prefil        prefilter
	states        []state
}

// nextState follows failure links until a transition on b exists. The start
// state never fails.
func (n *iNFA) nextState(id stateID, b byte) stateID {
	for {
		next := n.states[id].trans.get(b)
		if next != failedStateID {
			return next
		}
		if id == startStateID {
			return startStateID
		}
		id = n.states[id].fail
	}
}

func (n *iNFA) hasMatch(id stateID) bool {
	return len(n.states[id].matches) > 0
}

func (n *iNFA) match(id stateID, matchIndex, end int) *Match {
	pat := n.states[id].matches[matchIndex]
	return &Match{
		pattern: pat.PatternID,
		len:     pat.PatternLength,
		end:     end,
	}
}

type iNFABuilder struct {
	denseDepth int
	prefilter  bool
}

func newNFABuilder() *iNFABuilder {
	return &iNFABuilder{
		denseDepth: 2,
		prefilter:  true,
	}
}

type compiler struct {
	builder   iNFABuilder
	prefilter prefilterBuilder
	nfa       iNFA
}

func newCompiler(builder iNFABuilder) *compiler {
	return &compiler{
		builder:   builder,
		prefilter: newPrefilterBuilder(),
	}
}

func (c *compiler) compile(patterns [][]byte) *iNFA {
	totalBytes := 0
	for _, pat := range patterns {
		totalBytes += len(pat)
	}
	c.nfa.states = make([]state, 0, 2+totalBytes)

	// Slot 0 is the failed sentinel and never entered.
	c.addState(0)
	c.addState(0)

	c.buildTrie(patterns)
	c.fillFailureTransitions()

	if c.builder.prefilter {
		c.nfa.prefil = c.prefilter.build()
	}
	return &c.nfa
}

func (c *compiler) addState(depth int) stateID {
	id := stateID(len(c.nfa.states))
	s := state{fail: startStateID, depth: depth}
	if depth < c.builder.denseDepth {
		s.trans.dense = make([]stateID, 256)
	}
	c.nfa.states = append(c.nfa.states, s)
	return id
}

func (c *compiler) buildTrie(patterns [][]byte) {
	for pati, pat := range patterns {
		c.nfa.patternCount++
		if len(pat) == 0 {
			continue
		}
		c.nfa.maxPatternLen = max(c.nfa.maxPatternLen, len(pat))

		prev := startStateID
		for depth, b := range pat {
			next := c.nfa.states[prev].trans.get(b)
			if next == failedStateID {
				next = c.addState(depth + 1)
				c.nfa.states[prev].trans.set(b, next)
			}
			prev = next
		}
		c.nfa.states[prev].matches = append(c.nfa.states[prev].matches, patternMatch{
			PatternID:     pati,
			PatternLength: len(pat),
		})

		if c.builder.prefilter {
			c.prefilter.add(pat)
		}
	}
}

// fillFailureTransitions computes failure links breadth first and copies
// the matches of each failure target so that every state reports all
// patterns ending at it.
func (c *compiler) fillFailureTransitions() {
	nfa := &c.nfa
	queue := make([]stateID, 0, len(nfa.states))

	it := newIterTransitions(nfa, startStateID)
	for tr, ok := it.next(); ok; tr, ok = it.next() {
		nfa.states[tr.id].fail = startStateID
		queue = append(queue, tr.id)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		it := newIterTransitions(nfa, id)
		for tr, ok := it.next(); ok; tr, ok = it.next() {
			queue = append(queue, tr.id)

			fail := nfa.states[id].fail
			for {
				if next := nfa.states[fail].trans.get(tr.key); next != failedStateID {
					fail = next
					break
				}
				if fail == startStateID {
					break
				}
				fail = nfa.states[fail].fail
			}
			nfa.states[tr.id].fail = fail
			if src := nfa.states[fail].matches; len(src) > 0 {
				dst := &nfa.states[tr.id]
				dst.matches = append(dst.matches, src...)
			}
		}
	}
}

type next struct {
	key byte
	id  stateID
}

type iterTransitions struct {
	sparse []sparseTransition
	dense  []stateID
	cur    int
}

func newIterTransitions(nfa *iNFA, id stateID) iterTransitions {
	trans := &nfa.states[id].trans
	return iterTransitions{
		sparse: trans.sparse,
		dense:  trans.dense,
	}
}

func (i *iterTransitions) next() (next, bool) {
	if i.dense == nil {
		if i.cur >= len(i.sparse) {
			return next{}, false
		}
		t := i.sparse[i.cur]
		i.cur++
		return next{key: t.b, id: t.s}, true
	}

	for i.cur < 256 {
		b := byte(i.cur)
		id := i.dense[b]
		i.cur++
		if id != failedStateID {
			return next{key: b, id: id}, true
		}
	}
	return next{}, false
}
