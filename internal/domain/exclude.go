package domain

import "sort"

// Exclusions is the read-only view of an ExcludeSet handed to placement
// strategies, which must not add to it.
type Exclusions interface {
	ContainsPod(id string) bool
	ContainsCluster(id string) bool
	ContainsHost(id string) bool
	ContainsPool(id string) bool
}

// ExcludeSet accumulates the pods, clusters, hosts and storage pools that are
// disqualified for one reservation attempt. It only grows; there is no
// removal. It is not safe for concurrent use and must not be shared between
// Reserve calls.
type ExcludeSet struct {
	pods     map[string]struct{}
	clusters map[string]struct{}
	hosts    map[string]struct{}
	pools    map[string]struct{}
}

// NewExcludeSet returns an empty exclusion set.
func NewExcludeSet() *ExcludeSet {
	return &ExcludeSet{
		pods:     make(map[string]struct{}),
		clusters: make(map[string]struct{}),
		hosts:    make(map[string]struct{}),
		pools:    make(map[string]struct{}),
	}
}

func (e *ExcludeSet) AddPod(id string)     { e.pods[id] = struct{}{} }
func (e *ExcludeSet) AddCluster(id string) { e.clusters[id] = struct{}{} }
func (e *ExcludeSet) AddHost(id string)    { e.hosts[id] = struct{}{} }
func (e *ExcludeSet) AddPool(id string)    { e.pools[id] = struct{}{} }

func (e *ExcludeSet) ContainsPod(id string) bool     { return e != nil && has(e.pods, id) }
func (e *ExcludeSet) ContainsCluster(id string) bool { return e != nil && has(e.clusters, id) }
func (e *ExcludeSet) ContainsHost(id string) bool    { return e != nil && has(e.hosts, id) }
func (e *ExcludeSet) ContainsPool(id string) bool    { return e != nil && has(e.pools, id) }

// Hosts returns the excluded host ids in sorted order.
func (e *ExcludeSet) Hosts() []string { return sortedKeys(e.hosts) }

// Clusters returns the excluded cluster ids in sorted order.
func (e *ExcludeSet) Clusters() []string { return sortedKeys(e.clusters) }

// Pods returns the excluded pod ids in sorted order.
func (e *ExcludeSet) Pods() []string { return sortedKeys(e.pods) }

// Pools returns the excluded pool ids in sorted order.
func (e *ExcludeSet) Pools() []string { return sortedKeys(e.pools) }

// Len returns the total number of excluded ids across all four sets.
func (e *ExcludeSet) Len() int {
	if e == nil {
		return 0
	}
	return len(e.pods) + len(e.clusters) + len(e.hosts) + len(e.pools)
}

// Clone returns an independent copy.
func (e *ExcludeSet) Clone() *ExcludeSet {
	c := NewExcludeSet()
	for k := range e.pods {
		c.pods[k] = struct{}{}
	}
	for k := range e.clusters {
		c.clusters[k] = struct{}{}
	}
	for k := range e.hosts {
		c.hosts[k] = struct{}{}
	}
	for k := range e.pools {
		c.pools[k] = struct{}{}
	}
	return c
}

// IsSupersetOf reports whether every id in other is also in e.
func (e *ExcludeSet) IsSupersetOf(other *ExcludeSet) bool {
	return subset(other.pods, e.pods) &&
		subset(other.clusters, e.clusters) &&
		subset(other.hosts, e.hosts) &&
		subset(other.pools, e.pools)
}

func has(m map[string]struct{}, id string) bool {
	if m == nil {
		return false
	}
	_, ok := m[id]
	return ok
}

func subset(small, big map[string]struct{}) bool {
	for k := range small {
		if _, ok := big[k]; !ok {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
