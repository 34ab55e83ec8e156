package store

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a depth-indented debug listing of the trie to w: one line
// per node, marking internal ("N") vs leaf ("L"), its level and id.
func (s *Store) Dump(w io.Writer) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.dumpNode(w, s.root, 0)
}

func (s *Store) dumpNode(w io.Writer, n *node, depth int) {
	kind := "L"
	if n.children != nil {
		kind = "N"
	}

	fmt.Fprintf(w, "%s[%s lvl=%d id=%d olist=%v dlist=%v]\n",
		strings.Repeat(" ", depth), kind, n.level, n.id, n.inOList(), n.inDList())

	for c := n.children; c != nil; c = c.next {
		s.dumpNode(w, c, depth+1)
	}
}
