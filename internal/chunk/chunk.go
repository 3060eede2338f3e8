// Package chunk splits oversized text payloads into ordered, tagged
// fragments and reconstitutes logical messages from stored fragment rows.
package chunk

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Info tags a row as one fragment of an oversized logical message.
type Info struct {
	GroupID string
	Index   int
	Total   int
}

// Fragment is one slice of outgoing content, ready for encoding and persistence.
// Info is nil when the payload fit in a single unit.
type Fragment struct {
	Content string
	Info    *Info
}

// Record is a stored row after decoding, the unit Reassemble operates on.
// Fragments of one group carry the same GroupID; ordinary rows have nil Info.
type Record struct {
	ID          int64
	SenderID    string
	ReceiverID  string
	ContentType string
	CreatedAt   int64
	Status      string
	IsEdited    bool
	EditedAt    int64
	Content     string
	Info        *Info
}

// Split cuts content into contiguous fragments of at most chunkSize
// characters, stamped with a shared group id, zero-based index and fixed
// total. Content at or below threshold is returned as a single
// non-fragmented unit. Concatenating fragment contents in index order
// reproduces the original string exactly.
//
// Sizes are measured in runes so no fragment ever ends mid-codepoint.
func Split(content string, threshold, chunkSize int) []Fragment {
	if chunkSize < 1 {
		chunkSize = 1
	}
	runes := []rune(content)
	if len(runes) <= threshold {
		return []Fragment{{Content: content}}
	}

	groupID := uuid.New().String()
	total := (len(runes) + chunkSize - 1) / chunkSize
	fragments := make([]Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		fragments = append(fragments, Fragment{
			Content: string(runes[start:end]),
			Info: &Info{
				GroupID: groupID,
				Index:   i,
				Total:   total,
			},
		})
	}
	return fragments
}

// Reassemble reduces fragment groups back to logical messages. Rows without
// chunk info pass through unchanged. A group whose observed fragment count
// equals its total is concatenated in index order and emitted once as a
// single record carrying the first fragment's metadata, with chunk info
// cleared. Incomplete groups are not merged: each present fragment is
// surfaced individually so nothing silently disappears until the remaining
// fragments arrive. Input order is preserved; a group appears at the
// position of its first fragment.
func Reassemble(records []Record) []Record {
	groups := make(map[string][]Record)
	for _, r := range records {
		if r.Info != nil {
			groups[r.Info.GroupID] = append(groups[r.Info.GroupID], r)
		}
	}

	emitted := make(map[string]bool)
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Info == nil {
			out = append(out, r)
			continue
		}
		gid := r.Info.GroupID
		if emitted[gid] {
			continue
		}
		emitted[gid] = true
		out = append(out, reduceGroup(groups[gid])...)
	}
	return out
}

func reduceGroup(members []Record) []Record {
	total := members[0].Info.Total
	if total <= 0 {
		// Malformed metadata: surface the rows unmodified rather than
		// failing the read path.
		return members
	}

	// Keep the first-seen fragment per index; inserts are at-least-once.
	seen := make(map[int]bool, len(members))
	uniq := make([]Record, 0, len(members))
	for _, m := range members {
		if seen[m.Info.Index] {
			continue
		}
		seen[m.Info.Index] = true
		uniq = append(uniq, m)
	}
	sort.SliceStable(uniq, func(i, j int) bool {
		return uniq[i].Info.Index < uniq[j].Info.Index
	})

	if len(uniq) != total {
		// Partial delivery: reconciliation is deferred to a later read.
		return uniq
	}

	var b strings.Builder
	for _, m := range uniq {
		b.WriteString(m.Content)
	}
	merged := uniq[0]
	merged.Content = b.String()
	merged.Info = nil
	return []Record{merged}
}
