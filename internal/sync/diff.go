package sync

// Diff is the three-way key comparison driving a reconciliation run.
type Diff struct {
	// Missing keys exist remotely but not in the cache.
	Missing []string
	// ToFetch is the fetch work-list: missing plus updated, deduplicated.
	ToFetch []string
	// Deleted keys exist in the cache but no longer remotely.
	Deleted []string
}

// DiffKeys computes which keys need fetching and which need tombstoning from
// the remote listing, the cached listing and the updated-since listing.
// Duplicates in the inputs are collapsed; the output slices carry no
// ordering guarantee.
func DiffKeys(remote, cached, updated []string) Diff {
	remoteSet := toSet(remote)
	cachedSet := toSet(cached)

	var d Diff
	inFetch := make(map[string]struct{}, len(remote))
	for key := range remoteSet {
		if _, ok := cachedSet[key]; ok {
			continue
		}
		d.Missing = append(d.Missing, key)
		d.ToFetch = append(d.ToFetch, key)
		inFetch[key] = struct{}{}
	}

	for _, key := range updated {
		if _, ok := inFetch[key]; ok {
			continue
		}
		d.ToFetch = append(d.ToFetch, key)
		inFetch[key] = struct{}{}
	}

	for key := range cachedSet {
		if _, ok := remoteSet[key]; !ok {
			d.Deleted = append(d.Deleted, key)
		}
	}

	return d
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return set
}
