package evaluate

import (
	"fmt"
	"math"
	"strings"
)

const bleuOrder = 4

// BLEU computes corpus-level BLEU-4 with brevity penalty.
func BLEU(hyps, refs [][]string) Score {
	var matches, totals [bleuOrder]int
	hypLen, refLen := 0, 0
	for i := range hyps {
		hypLen += len(hyps[i])
		refLen += len(refs[i])
		for n := 1; n <= bleuOrder; n++ {
			refCounts := ngrams(refs[i], n)
			for g, c := range ngrams(hyps[i], n) {
				matches[n-1] += min(c, refCounts[g])
				totals[n-1] += c
			}
		}
	}

	precisions := make([]string, bleuOrder)
	logSum := 0.0
	for n := 0; n < bleuOrder; n++ {
		if totals[n] == 0 || matches[n] == 0 {
			precisions[n] = "0.0"
			logSum = math.Inf(-1)
			continue
		}
		p := float64(matches[n]) / float64(totals[n])
		precisions[n] = fmt.Sprintf("%.1f", 100*p)
		logSum += math.Log(p)
	}

	bp := 1.0
	if hypLen == 0 {
		bp = 0
	} else if hypLen < refLen {
		bp = math.Exp(1 - float64(refLen)/float64(hypLen))
	}

	value := 0.0
	if !math.IsInf(logSum, -1) {
		value = bp * math.Exp(logSum/bleuOrder)
	}
	detail := fmt.Sprintf("%s, BP = %.3f, hyp_len=%d, ref_len=%d", strings.Join(precisions, "/"), bp, hypLen, refLen)
	return &score{metric: "bleu", value: value, higher: true, detail: detail}
}

func ngrams(toks []string, n int) map[string]int {
	out := make(map[string]int)
	for i := 0; i+n <= len(toks); i++ {
		out[strings.Join(toks[i:i+n], "\x00")]++
	}
	return out
}

// WER computes the word error rate: word edit distance over reference length.
func WER(hyps, refs [][]string) Score {
	dist, refLen := 0, 0
	for i := range hyps {
		dist += editDistance(hyps[i], refs[i])
		refLen += len(refs[i])
	}
	return &score{metric: "wer", value: rate(dist, refLen), higher: false,
		detail: fmt.Sprintf("errors=%d, ref_len=%d", dist, refLen)}
}

// CER computes the character error rate over space-joined sentences.
func CER(hyps, refs [][]string) Score {
	dist, refLen := 0, 0
	for i := range hyps {
		h := strings.Split(strings.Join(hyps[i], " "), "")
		r := strings.Split(strings.Join(refs[i], " "), "")
		dist += editDistance(h, r)
		refLen += len(r)
	}
	return &score{metric: "cer", value: rate(dist, refLen), higher: false,
		detail: fmt.Sprintf("errors=%d, ref_len=%d", dist, refLen)}
}

func rate(dist, refLen int) float64 {
	if refLen == 0 {
		if dist == 0 {
			return 0
		}
		return 1
	}
	return float64(dist) / float64(refLen)
}

func editDistance(a, b []string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
