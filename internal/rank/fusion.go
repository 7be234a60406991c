package rank

// fusion merges several ranked candidate lists into one. Reciprocal rank
// fusion is rank-based so lists with incomparable score scales still merge
// sensibly; the min-max blend then folds a normalized share of the original
// lexical scores back in so large score gaps are not flattened to rank
// deltas.

// rankedList is one input list with its fusion weight.
type rankedList struct {
	cands  []*Candidate
	weight float64
}

// fuse runs weighted RRF across the lists and blends the normalized base
// lexical score: blended = alpha*lexNorm + (1-alpha)*rrfNorm, re-expressed
// in the base score's original range when that range is non-degenerate.
// Each candidate keeps the union of its signals across lists.
func fuse(lists []rankedList, rrfK int, alpha float64) []*Candidate {
	if rrfK <= 0 {
		rrfK = 60
	}

	type acc struct {
		cand *Candidate
		rrf  float64
		lex  float64
	}
	byKey := make(map[string]*acc)
	var order []string

	for _, list := range lists {
		w := list.weight
		if w <= 0 {
			w = 1.0
		}
		for rank, c := range list.cands {
			key := c.Key()
			a, ok := byKey[key]
			if !ok {
				a = &acc{cand: c, lex: c.LexScore}
				byKey[key] = a
				order = append(order, key)
			} else {
				a.cand = a.cand.WithSignals(c.Signals...)
				if c.LexScore > a.lex {
					a.lex = c.LexScore
				}
			}
			a.rrf += w / float64(rrfK+rank+1)
		}
	}
	if len(order) == 0 {
		return nil
	}

	minRRF, maxRRF := byKey[order[0]].rrf, byKey[order[0]].rrf
	minLex, maxLex := byKey[order[0]].lex, byKey[order[0]].lex
	for _, key := range order[1:] {
		a := byKey[key]
		if a.rrf < minRRF {
			minRRF = a.rrf
		}
		if a.rrf > maxRRF {
			maxRRF = a.rrf
		}
		if a.lex < minLex {
			minLex = a.lex
		}
		if a.lex > maxLex {
			maxLex = a.lex
		}
	}
	norm := func(v, lo, hi float64) float64 {
		if hi <= lo {
			return 1.0
		}
		return (v - lo) / (hi - lo)
	}

	out := make([]*Candidate, 0, len(order))
	for _, key := range order {
		a := byKey[key]
		blended := alpha*norm(a.lex, minLex, maxLex) + (1-alpha)*norm(a.rrf, minRRF, maxRRF)
		if maxLex > minLex {
			blended = minLex + blended*(maxLex-minLex)
		}
		out = append(out, a.cand.WithFused(blended, explainf("fused rrf=%.4f lex=%.3f", a.rrf, a.lex)))
	}
	Sort(out)
	return out
}
