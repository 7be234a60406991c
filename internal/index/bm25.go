package index

import "math"

// BM25 parameters shared by the scoring engine and PRF expansion.
const (
	BM25K1 = 1.2
	BM25B  = 0.75
)

// IDF computes the BM25 inverse document frequency:
// ln(1 + (N - df + 0.5)/(df + 0.5)).
func IDF(totalDocs, docFreq int) float64 {
	n := float64(totalDocs)
	df := float64(docFreq)
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

// BM25TF computes the saturated term-frequency component with length
// normalization against the scope's average document length.
func BM25TF(termCount, docLen int, avgLen float64) float64 {
	if termCount <= 0 {
		return 0
	}
	tf := float64(termCount)
	if avgLen < 1 {
		avgLen = 1
	}
	norm := 1 - BM25B + BM25B*float64(docLen)/avgLen
	return tf * (BM25K1 + 1) / (tf + BM25K1*norm)
}
