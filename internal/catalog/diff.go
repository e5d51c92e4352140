package catalog

import "sort"

// DiffResult holds the article codes gained and lost by a fetch
type DiffResult struct {
	New   []string
	Stale []string
}

// Diff computes New = fetched \ persisted and Stale = persisted \ fetched.
// Both lists are sorted and free of duplicates, so the result depends only
// on the two sets.
func Diff(fetched []string, persisted map[string]struct{}) DiffResult {
	fetchedSet := make(map[string]struct{}, len(fetched))
	for _, code := range fetched {
		fetchedSet[code] = struct{}{}
	}

	result := DiffResult{New: []string{}, Stale: []string{}}
	for code := range fetchedSet {
		if _, ok := persisted[code]; !ok {
			result.New = append(result.New, code)
		}
	}
	for code := range persisted {
		if _, ok := fetchedSet[code]; !ok {
			result.Stale = append(result.Stale, code)
		}
	}

	sort.Strings(result.New)
	sort.Strings(result.Stale)
	return result
}

// IsColdStart reports whether a category has no stored baseline yet
func IsColdStart(persisted map[string]struct{}) bool {
	return len(persisted) == 0
}
