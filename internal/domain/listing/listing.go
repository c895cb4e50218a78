// Package listing contains the job listing record and the snapshot diff.
package listing

import "strings"

// keySep joins the identity fields. The feed carries no identifier of its own.
const keySep = "|"

// Listing is one row of the job-listing feed.
type Listing struct {
	Location        string
	Trade           string
	Wages           string
	NationalPension string
	LocalPension    string
	HealthWelfare   string
	Hours           string
	StartDate       string
	EndDate         string
	// Needed is nil when the feed leaves the count blank.
	Needed *int
}

// Key returns the identity of the listing across harvests.
// Listings with equal keys are the same listing even if other fields differ.
func (l Listing) Key() string {
	return strings.Join([]string{
		l.Location,
		l.Trade,
		l.Wages,
		l.Hours,
		l.StartDate,
		l.EndDate,
	}, keySep)
}

// NeededCount returns the number of workers needed, 0 when unknown.
func (l Listing) NeededCount() int {
	if l.Needed == nil {
		return 0
	}
	return *l.Needed
}

// Snapshot is the ordered set of listings captured by one harvest.
type Snapshot []Listing

// Keys returns the identity keys of the snapshot as a set.
func (s Snapshot) Keys() map[string]struct{} {
	keys := make(map[string]struct{}, len(s))
	for _, l := range s {
		keys[l.Key()] = struct{}{}
	}
	return keys
}
