// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package search

// Merge combines the pre-rerank and post-rerank orderings. Orderings
// are compared per URL: when any URL moved further than maxDisplacement
// positions, the reranked order is adopted wholesale; otherwise the
// initial order is kept with scores overwritten from the reranked
// response. An empty initial set returns the reranked set unchanged.
func Merge(initial, reranked []Result, maxDisplacement int) []Result {
	if len(initial) == 0 {
		return reranked
	}

	initialPos := make(map[string]int, len(initial))
	for i, r := range initial {
		if _, ok := initialPos[r.URL]; !ok {
			initialPos[r.URL] = i
		}
	}

	rerankScore := make(map[string]float32, len(reranked))
	for j, r := range reranked {
		if _, ok := rerankScore[r.URL]; !ok {
			rerankScore[r.URL] = r.Score
		}
		i, ok := initialPos[r.URL]
		if !ok {
			continue
		}
		disp := i - j
		if disp < 0 {
			disp = -disp
		}
		if disp > maxDisplacement {
			return reranked
		}
	}

	out := make([]Result, len(initial))
	copy(out, initial)
	for i := range out {
		if score, ok := rerankScore[out[i].URL]; ok {
			out[i].Score = score
		}
	}
	return out
}
