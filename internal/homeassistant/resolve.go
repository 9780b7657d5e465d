package homeassistant

import (
	"errors"
	"sort"
	"strings"
)

// ErrNoEntity reports that no entity was within the configured match
// threshold for a spoken device reference.
var ErrNoEntity = errors.New("homeassistant: no matching entity")

// Resolver maps spoken device references onto concrete entities. Spoken
// references rarely match entity IDs: users say "the light above the
// desk" for light.desk_light. Matching considers the entity name, the
// friendly name, and the area, preferring exact substring matches over
// edit-distance matches, with ties broken by the shortest entity ID.
type Resolver struct {
	// MaxDistance is the normalized edit-distance ceiling (0..1).
	// References farther than this from every candidate fail to resolve.
	MaxDistance float64
}

// matchClass orders match quality: substring beats edit distance.
type matchClass int

const (
	classSubstring matchClass = iota
	classFuzzy
)

type candidate struct {
	entity Entity
	class  matchClass
	dist   float64
}

// Resolve returns the entity best matching the spoken reference, or
// [ErrNoEntity] if nothing is within the threshold.
func (r *Resolver) Resolve(reference string, entities []Entity) (Entity, error) {
	ref := normalizeName(reference)
	if ref == "" || len(entities) == 0 {
		return Entity{}, ErrNoEntity
	}
	refTokens := strings.Fields(ref)

	var candidates []candidate
	for _, e := range entities {
		c, ok := r.score(ref, refTokens, e)
		if ok {
			candidates = append(candidates, c)
		}
	}

	if len(candidates) == 0 {
		return Entity{}, ErrNoEntity
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.class != b.class {
			return a.class < b.class
		}
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		return len(a.entity.EntityID) < len(b.entity.EntityID)
	})

	return candidates[0].entity, nil
}

// score evaluates one entity against the reference across its name
// variants and returns the best match found, if any.
func (r *Resolver) score(ref string, refTokens []string, e Entity) (candidate, bool) {
	_, namePart, _ := strings.Cut(e.EntityID, ".")
	variants := []string{
		normalizeName(namePart),
		normalizeName(e.FriendlyName),
	}
	if e.Area != "" {
		variants = append(variants, normalizeName(e.Area+" "+e.FriendlyName))
	}

	best := candidate{entity: e, class: classFuzzy, dist: 2}
	found := false

	for _, v := range variants {
		if v == "" {
			continue
		}

		dist := normalizedDistance(ref, v)

		if strings.Contains(ref, v) || strings.Contains(v, ref) || tokensContained(strings.Fields(v), refTokens) {
			if !found || classSubstring < best.class || dist < best.dist {
				best = candidate{entity: e, class: classSubstring, dist: dist}
			}
			found = true
			continue
		}

		if dist <= r.MaxDistance {
			if !found || (best.class == classFuzzy && dist < best.dist) {
				best = candidate{entity: e, class: classFuzzy, dist: dist}
			}
			found = true
		}
	}

	return best, found
}

// tokensContained reports whether every token of the candidate name
// appears among the reference tokens. "desk light" is contained in
// "light above the desk" even though the words are reordered.
func tokensContained(name, ref []string) bool {
	if len(name) == 0 {
		return false
	}
	for _, n := range name {
		ok := false
		for _, t := range ref {
			if t == n {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// normalizeName lowercases and converts separators to spaces so that
// entity IDs, friendly names, and speech all compare in one space.
func normalizeName(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("_", " ", ".", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// normalizedDistance returns Levenshtein distance divided by the longer
// string's length, giving a 0..1 scale independent of name length.
func normalizedDistance(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	return float64(levenshtein(a, b)) / float64(longest)
}

// levenshtein computes edit distance with a rolling single-row table.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		cur := i
		diag := i - 1 // prev[0] before overwrite
		prev[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			next := min3(prev[j]+1, cur+1, diag+cost)
			diag = prev[j]
			prev[j] = next
			cur = next
		}
	}

	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
