// Package location holds the in-memory catalogue of named locations with
// exact, prefix, and fuzzy lookup, plus haversine-sorted proximity search.
// The index is immutable after build and safe for concurrent reads.
package location

import (
	"sort"
	"strings"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"golang.org/x/text/unicode/norm"

	"kazeguide/pkg/model"
)

// Normalize NFKC-normalizes, lowercases, and trims a name.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}

// Index is the immutable location catalogue.
type Index struct {
	locations    []*model.Location
	byName       map[string]*model.Location
	byNormalized map[string]*model.Location
	byRegion     map[string][]*model.Location
	byPrefecture map[string][]*model.Location
	keys         map[*model.Location][]string
	trie         *trieNode
	memo         *editMemo
}

// Filters narrows Search results.
type Filters struct {
	Region     string
	Prefecture string
}

// NewIndex builds all indexes in one pass. Build is O(total name runes) and
// comfortably sub-second for 10^4 entries.
func NewIndex(locs []model.Location) *Index {
	idx := &Index{
		byName:       make(map[string]*model.Location, len(locs)),
		byNormalized: make(map[string]*model.Location, len(locs)),
		byRegion:     make(map[string][]*model.Location),
		byPrefecture: make(map[string][]*model.Location),
		keys:         make(map[*model.Location][]string, len(locs)),
		trie:         newTrieNode(),
		memo:         newEditMemo(),
	}

	for i := range locs {
		loc := &locs[i]
		if loc.NormalizedName == "" {
			loc.NormalizedName = Normalize(loc.Name)
		}
		loc.HasCoords = loc.Lat != 0 || loc.Lon != 0

		idx.locations = append(idx.locations, loc)
		idx.byName[loc.Name] = loc
		idx.byNormalized[loc.NormalizedName] = loc
		if loc.Kana != "" {
			idx.byNormalized[Normalize(loc.Kana)] = loc
		}
		if loc.Region != "" {
			idx.byRegion[loc.Region] = append(idx.byRegion[loc.Region], loc)
		}
		if loc.Prefecture != "" {
			idx.byPrefecture[loc.Prefecture] = append(idx.byPrefecture[loc.Prefecture], loc)
		}

		idx.trie.insert(loc.NormalizedName, loc)
		idx.keys[loc] = []string{loc.NormalizedName}
		if loc.Kana != "" {
			kana := Normalize(loc.Kana)
			idx.trie.insert(kana, loc)
			idx.keys[loc] = append(idx.keys[loc], kana)
		}
	}
	return idx
}

// Len returns the catalogue size.
func (idx *Index) Len() int { return len(idx.locations) }

// All returns every location in the catalogue.
func (idx *Index) All() []*model.Location { return idx.locations }

// Lookup resolves a name to a location: exact canonical, exact normalized,
// unique-or-shortest prefix, then fuzzy by edit distance. Absent is not an
// error; callers fall back to supplied coordinates if they have any.
func (idx *Index) Lookup(name string) *model.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	if loc, ok := idx.byName[name]; ok {
		return loc
	}
	q := Normalize(name)
	if loc, ok := idx.byNormalized[q]; ok {
		return loc
	}

	if candidates := idx.trie.walk(q); len(candidates) > 0 {
		if len(candidates) == 1 {
			return candidates[0]
		}
		// Multiple continuations: shortest candidate wins.
		best := candidates[0]
		for _, c := range candidates[1:] {
			if len([]rune(c.NormalizedName)) < len([]rune(best.NormalizedName)) {
				best = c
			}
		}
		return best
	}

	return idx.fuzzyBest(q)
}

// fuzzyBest returns the catalogue entry within the edit-distance budget
// max(1, len(query)/3), or nil.
func (idx *Index) fuzzyBest(q string) *model.Location {
	budget := len([]rune(q)) / 3
	if budget < 1 {
		budget = 1
	}

	var best *model.Location
	bestDist := budget + 1
	for _, loc := range idx.locations {
		for _, key := range idx.keys[loc] {
			d := idx.memo.distance(q, key)
			if d < bestDist {
				best = loc
				bestDist = d
			}
		}
	}
	return best
}

// Search returns locations matching query under the filters, in a stable
// display order (name ascending).
func (idx *Index) Search(query string, f Filters, fuzzy bool, limit int) []*model.Location {
	q := Normalize(query)

	seen := make(map[*model.Location]bool)
	var out []*model.Location
	add := func(loc *model.Location) {
		if loc == nil || seen[loc] {
			return
		}
		if f.Region != "" && loc.Region != f.Region {
			return
		}
		if f.Prefecture != "" && loc.Prefecture != f.Prefecture {
			return
		}
		seen[loc] = true
		out = append(out, loc)
	}

	if q == "" {
		for _, loc := range idx.locations {
			add(loc)
		}
	} else {
		if loc, ok := idx.byNormalized[q]; ok {
			add(loc)
		}
		for _, loc := range idx.trie.walk(q) {
			add(loc)
		}
		if fuzzy {
			budget := len([]rune(q)) / 3
			if budget < 1 {
				budget = 1
			}
			for _, loc := range idx.locations {
				for _, key := range idx.keys[loc] {
					if idx.memo.distance(q, key) <= budget {
						add(loc)
						break
					}
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Nearby returns up to limit locations within radiusKM of loc, sorted by
// ascending haversine distance. loc itself is excluded.
func (idx *Index) Nearby(loc *model.Location, radiusKM float64, limit int) []*model.Location {
	if loc == nil || !loc.HasCoords {
		return nil
	}
	origin := orb.Point{loc.Lon, loc.Lat}

	type scored struct {
		loc  *model.Location
		dist float64
	}
	var matches []scored
	for _, cand := range idx.locations {
		if cand == loc || !cand.HasCoords {
			continue
		}
		d := orbgeo.Distance(origin, orb.Point{cand.Lon, cand.Lat}) / 1000.0
		if d <= radiusKM {
			matches = append(matches, scored{cand, d})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].dist < matches[j].dist })

	out := make([]*model.Location, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.loc)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
