// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package consensus integrates the answers of multiple providers into a
// single response with agreement and confidence scores. Scoring is
// text-overlap based: answers are compared pairwise by word-level Jaccard
// similarity, weighted by each provider's trust class.
package consensus

import (
	"math"
	"sort"

	"quorum/platform/orchestrator/provider"
)

// Default thresholds and weights.
const (
	// DefaultConfidenceThreshold is the minimum final confidence below
	// which a result is flagged for escalation.
	DefaultConfidenceThreshold = 0.7

	// DefaultAgreementThreshold is the minimum agreement score below
	// which a result is flagged for escalation.
	DefaultAgreementThreshold = 0.6

	// DefaultOutlierFloor excludes a response from integration when its
	// best pairwise similarity to any peer falls below this value.
	DefaultOutlierFloor = 0.20

	// similarityWeight and priorWeight blend a response's overlap with
	// its peers against its provider's trust prior.
	similarityWeight = 0.6
	priorWeight      = 0.4

	// tieEpsilon is the confidence band within which two candidate
	// answers are considered tied.
	tieEpsilon = 0.01
)

// Engine scores and integrates provider responses. An Engine is immutable
// after creation and safe for concurrent use.
type Engine struct {
	confidenceThreshold float64
	agreementThreshold  float64
	outlierFloor        float64
	priors              map[provider.TrustClass]float64
}

// Option configures the engine.
type Option func(*Engine)

// WithThresholds overrides the confidence and agreement thresholds.
func WithThresholds(confidence, agreement float64) Option {
	return func(e *Engine) {
		e.confidenceThreshold = confidence
		e.agreementThreshold = agreement
	}
}

// WithOutlierFloor overrides the outlier exclusion floor.
func WithOutlierFloor(floor float64) Option {
	return func(e *Engine) { e.outlierFloor = floor }
}

// WithTrustPriors overrides the per-class trust priors.
func WithTrustPriors(priors map[provider.TrustClass]float64) Option {
	return func(e *Engine) { e.priors = priors }
}

// NewEngine creates a consensus engine with default thresholds.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		confidenceThreshold: DefaultConfidenceThreshold,
		agreementThreshold:  DefaultAgreementThreshold,
		outlierFloor:        DefaultOutlierFloor,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ConfidenceThreshold returns the configured confidence threshold.
func (e *Engine) ConfidenceThreshold() float64 { return e.confidenceThreshold }

// AgreementThreshold returns the configured agreement threshold.
func (e *Engine) AgreementThreshold() float64 { return e.agreementThreshold }

// Assessment scores one provider's response.
type Assessment struct {
	ProviderID string  `json:"provider_id"`
	Confidence float64 `json:"confidence"`

	// MeanSimilarity is the mean pairwise similarity to the other
	// integrated responses.
	MeanSimilarity float64 `json:"mean_similarity"`

	// Outlier marks a response excluded from integration because it
	// agrees with no peer.
	Outlier bool `json:"outlier,omitempty"`
}

// Result is the integrated consensus outcome.
type Result struct {
	// Answer is the selected response text.
	Answer string `json:"answer"`

	// AnswerProviderID identifies whose response was selected.
	AnswerProviderID string `json:"answer_provider_id"`

	// Confidence is the trust-weighted mean confidence over the
	// integrated responses.
	Confidence float64 `json:"confidence"`

	// Agreement is the mean pairwise similarity over all successful
	// responses, outliers included (1.0 when only one response
	// succeeded).
	Agreement float64 `json:"agreement"`

	// Assessments scores every successful response, outliers included.
	Assessments []Assessment `json:"assessments"`

	// BelowThreshold indicates the confidence or agreement threshold was
	// not met; tiers with an escalation set react by widening the
	// provider pool.
	BelowThreshold bool `json:"below_threshold,omitempty"`
}

// candidate pairs one successful result with its scores during
// integration.
type candidate struct {
	res     *provider.InvocationResult
	meanSim float64
	maxSim  float64
	conf    float64
	prior   float64
	agg     bool
	outlier bool
}

// Integrate scores the successful results and selects the final answer.
// aggregators names the providers whose responses are preferred as the
// integration surface when present and not outliers. Failed results in
// the input are ignored; passing zero successful results returns nil.
func (e *Engine) Integrate(results []provider.InvocationResult, aggregators map[string]bool) *Result {
	var cands []*candidate
	for i := range results {
		if !results[i].Succeeded() {
			continue
		}
		cands = append(cands, &candidate{
			res:   &results[i],
			prior: e.prior(results[i].TrustClass),
			agg:   aggregators[results[i].ProviderID],
		})
	}
	if len(cands) == 0 {
		return nil
	}

	e.score(cands)

	integrated := make([]*candidate, 0, len(cands))
	for _, c := range cands {
		if !c.outlier {
			integrated = append(integrated, c)
		}
	}
	// Every response disagreeing with every other leaves nothing to
	// integrate; fall back to scoring all of them rather than answering
	// with nothing.
	if len(integrated) == 0 {
		for _, c := range cands {
			c.outlier = false
		}
		integrated = cands
	}

	// Agreement covers every successful response: an outlier excluded
	// from integration still drags the score down, which is what pushes
	// a disputed result over the escalation threshold.
	agreement := meanPairwiseAgreement(cands)
	confidence := trustWeightedConfidence(integrated)
	winner := e.selectAnswer(integrated)

	result := &Result{
		Answer:           winner.res.Text,
		AnswerProviderID: winner.res.ProviderID,
		Confidence:       confidence,
		Agreement:        agreement,
		BelowThreshold:   confidence < e.confidenceThreshold || agreement < e.agreementThreshold,
	}
	for _, c := range cands {
		result.Assessments = append(result.Assessments, Assessment{
			ProviderID:     c.res.ProviderID,
			Confidence:     c.conf,
			MeanSimilarity: c.meanSim,
			Outlier:        c.outlier,
		})
	}
	sort.Slice(result.Assessments, func(i, j int) bool {
		return result.Assessments[i].ProviderID < result.Assessments[j].ProviderID
	})
	return result
}

// score computes pairwise similarities, marks outliers, and assigns
// per-response confidence.
func (e *Engine) score(cands []*candidate) {
	n := len(cands)
	if n == 1 {
		// A lone response has no peers to agree with; its confidence is
		// its trust prior.
		cands[0].meanSim = 1.0
		cands[0].maxSim = 1.0
		cands[0].conf = cands[0].prior
		return
	}

	sims := make([][]float64, n)
	for i := range sims {
		sims[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := Similarity(cands[i].res.Text, cands[j].res.Text)
			sims[i][j] = s
			sims[j][i] = s
		}
	}

	for i, c := range cands {
		sum := 0.0
		max := 0.0
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			sum += sims[i][j]
			max = math.Max(max, sims[i][j])
		}
		c.meanSim = sum / float64(n-1)
		c.maxSim = max
		c.outlier = max < e.outlierFloor
		c.conf = similarityWeight*c.meanSim + priorWeight*c.prior
	}
}

// selectAnswer picks the response to return: the aggregator's when one
// participated, otherwise the highest-confidence response. Confidence
// ties resolve by trust class, then by longer non-truncated text, then
// by provider id for determinism.
func (e *Engine) selectAnswer(integrated []*candidate) *candidate {
	for _, c := range integrated {
		if c.agg {
			return c
		}
	}

	best := integrated[0]
	for _, c := range integrated[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best
}

func better(a, b *candidate) bool {
	if math.Abs(a.conf-b.conf) > tieEpsilon {
		return a.conf > b.conf
	}
	ra, rb := a.res.TrustClass.Rank(), b.res.TrustClass.Rank()
	if ra != rb {
		return ra > rb
	}
	if a.res.Truncated != b.res.Truncated {
		return !a.res.Truncated
	}
	if len(a.res.Text) != len(b.res.Text) {
		return len(a.res.Text) > len(b.res.Text)
	}
	return a.res.ProviderID < b.res.ProviderID
}

// meanPairwiseAgreement is the mean similarity over every pair of
// successful responses.
func meanPairwiseAgreement(cands []*candidate) float64 {
	n := len(cands)
	if n < 2 {
		return 1.0
	}
	sum := 0.0
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sum += Similarity(cands[i].res.Text, cands[j].res.Text)
			pairs++
		}
	}
	return sum / float64(pairs)
}

// trustWeightedConfidence is the prior-weighted mean of per-response
// confidences.
func trustWeightedConfidence(integrated []*candidate) float64 {
	sum := 0.0
	weight := 0.0
	for _, c := range integrated {
		sum += c.conf * c.prior
		weight += c.prior
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}

func (e *Engine) prior(tc provider.TrustClass) float64 {
	if e.priors != nil {
		if p, ok := e.priors[tc]; ok {
			return p
		}
	}
	return tc.Prior()
}
