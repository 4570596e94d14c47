package resolver

// arena is a union-find over record slots: a vector of parent/size entries
// plus a record-key -> slot map. Roots carry the cluster id. This layout
// avoids pointer-linked nodes and serializes trivially.
type arena struct {
	parents []int
	sizes   []int
	keys    []string
	index   map[string]int
	// clusterIDs maps a root slot to its cluster id.
	clusterIDs map[int]string
}

func newArena() *arena {
	return &arena{
		index:      make(map[string]int),
		clusterIDs: make(map[int]string),
	}
}

// add ensures a slot exists for key and returns it. New slots start as
// their own singleton root with no cluster id.
func (a *arena) add(key string) int {
	if i, ok := a.index[key]; ok {
		return i
	}
	i := len(a.parents)
	a.parents = append(a.parents, i)
	a.sizes = append(a.sizes, 1)
	a.keys = append(a.keys, key)
	a.index[key] = i
	return i
}

// lookup returns the slot for key without creating one.
func (a *arena) lookup(key string) (int, bool) {
	i, ok := a.index[key]
	return i, ok
}

// find returns the root slot for i, compressing the path on the way up.
func (a *arena) find(i int) int {
	for a.parents[i] != i {
		a.parents[i] = a.parents[a.parents[i]]
		i = a.parents[i]
	}
	return i
}

// union merges the sets containing roots ra and rb (union by size) and
// returns the surviving root. Calling with equal roots is a no-op.
func (a *arena) union(ra, rb int) int {
	if ra == rb {
		return ra
	}
	if a.sizes[ra] < a.sizes[rb] {
		ra, rb = rb, ra
	}
	a.parents[rb] = ra
	a.sizes[ra] += a.sizes[rb]
	delete(a.clusterIDs, rb)
	return ra
}

// setClusterID records the cluster id for a root slot.
func (a *arena) setClusterID(root int, id string) {
	a.clusterIDs[root] = id
}

// clusterID returns the cluster id for the set containing slot i.
func (a *arena) clusterID(i int) string {
	return a.clusterIDs[a.find(i)]
}

// members returns all record keys in the set containing slot i.
func (a *arena) members(i int) []string {
	root := a.find(i)
	out := make([]string, 0, a.sizes[root])
	for j := range a.parents {
		if a.find(j) == root {
			out = append(out, a.keys[j])
		}
	}
	return out
}
