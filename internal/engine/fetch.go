package engine

import (
	"github.com/docsift/docsift/internal/claims"
	"github.com/docsift/docsift/internal/errors"
)

// Fetch kinds.
const (
	KindCandidates    = "candidates"
	KindUnscanned     = "unscanned"
	KindConflicts     = "conflicts"
	KindGaps          = "gaps"
	KindIntegratedTop = "integrated_top"
	KindClaims        = "claims"
	KindEvidences     = "evidences"
	KindEdges         = "edges"
)

var fetchKinds = map[string]bool{
	KindCandidates: true, KindUnscanned: true, KindConflicts: true,
	KindGaps: true, KindIntegratedTop: true, KindClaims: true,
	KindEvidences: true, KindEdges: true,
}

// MaxFetchLimit bounds one page.
const MaxFetchLimit = 200

// FetchResult is one page of trace items.
type FetchResult struct {
	Kind    string `json:"kind"`
	Items   []any  `json:"items"`
	Total   int    `json:"total"`
	Offset  int    `json:"offset"`
	Limit   int    `json:"limit"`
	HasMore bool   `json:"has_more"`
}

// integratedTopSize is how many top candidates the integrated view keeps.
const integratedTopSize = 5

// Conflict pairs a contradicting edge with the claim it contradicts.
type Conflict struct {
	Claim *claims.Claim `json:"claim"`
	Edge  *claims.Edge  `json:"edge"`
}

// Fetch returns one page of a stored trace's items. An unknown or expired
// trace id is a not-found failure; parameter violations fail before the
// trace lookup.
func (e *Engine) Fetch(traceID, kind string, offset, limit int) (*FetchResult, error) {
	if traceID == "" {
		return nil, errors.New(errors.CodeInvalidParameter, "trace id must not be empty")
	}
	if !fetchKinds[kind] {
		return nil, errors.Newf(errors.CodeInvalidParameter, "unknown fetch kind %q", kind)
	}
	if offset < 0 {
		return nil, errors.New(errors.CodeInvalidParameter, "offset must not be negative")
	}
	if limit <= 0 || limit > MaxFetchLimit {
		return nil, errors.Newf(errors.CodeInvalidParameter, "limit must be in (0, %d]", MaxFetchLimit)
	}

	t, err := e.traces.Get(traceID)
	if err != nil {
		return nil, err
	}

	items := traceItems(t, kind)
	total := len(items)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return &FetchResult{
		Kind:    kind,
		Items:   items[offset:end],
		Total:   total,
		Offset:  offset,
		Limit:   limit,
		HasMore: end < total,
	}, nil
}

func traceItems(t *Trace, kind string) []any {
	switch kind {
	case KindCandidates:
		return anySlice(t.Candidates)
	case KindUnscanned:
		return anySliceVal(t.Unscanned)
	case KindClaims:
		return anySlice(t.Graph.Claims)
	case KindEdges:
		return anySlice(t.Graph.Edges)
	case KindGaps:
		var out []any
		for _, cl := range t.Graph.Claims {
			if cl.Status == claims.StatusUnresolved {
				out = append(out, cl)
			}
		}
		return out
	case KindConflicts:
		byID := make(map[string]*claims.Claim, len(t.Graph.Claims))
		for _, cl := range t.Graph.Claims {
			byID[cl.ID] = cl
		}
		var out []any
		for _, edge := range t.Graph.Edges {
			if edge.Kind == claims.RelContradicts {
				out = append(out, Conflict{Claim: byID[edge.ClaimID], Edge: edge})
			}
		}
		return out
	case KindEvidences:
		return anySlice(t.Graph.Evidences)
	case KindIntegratedTop:
		n := len(t.Candidates)
		if n > integratedTopSize {
			n = integratedTopSize
		}
		return anySlice(t.Candidates[:n])
	}
	return nil
}

func anySlice[T any](in []*T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func anySliceVal[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
