package listing

// NewListings returns, in current's order, every listing of current whose key
// does not appear in previous. An empty previous yields all of current.
// Duplicate keys inside current are all returned; the diff only tests membership
// against previous.
func NewListings(previous, current Snapshot) Snapshot {
	if len(current) == 0 {
		return nil
	}

	seen := previous.Keys()
	out := make(Snapshot, 0, len(current))
	for _, l := range current {
		if _, ok := seen[l.Key()]; ok {
			continue
		}
		out = append(out, l)
	}
	return out
}
