package intelligence

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/elysia-ai/elysia/internal/domain/entity"
)

// Strategy selects how aggressively the context is compressed.
type Strategy string

const (
	StrategyMinimal       Strategy = "minimal"
	StrategyBalanced      Strategy = "balanced"
	StrategyComprehensive Strategy = "comprehensive"
)

// basePriority is the fixed strategy×cluster priority matrix. Emotional and
// dynamic always rank at least as high as core.
var basePriority = map[Strategy]map[Cluster]float64{
	StrategyMinimal: {
		ClusterEmotional:  1.0,
		ClusterDynamic:    1.0,
		ClusterCore:       0.8,
		ClusterContextual: 0.3,
		ClusterBehavioral: 0.2,
		ClusterCognitive:  0.2,
		ClusterPredictive: 0.1,
	},
	StrategyBalanced: {
		ClusterEmotional:  1.0,
		ClusterDynamic:    0.9,
		ClusterCore:       0.8,
		ClusterContextual: 0.6,
		ClusterBehavioral: 0.5,
		ClusterCognitive:  0.4,
		ClusterPredictive: 0.3,
	},
	StrategyComprehensive: {
		ClusterEmotional:  1.0,
		ClusterDynamic:    1.0,
		ClusterCore:       0.9,
		ClusterContextual: 0.8,
		ClusterBehavioral: 0.7,
		ClusterCognitive:  0.7,
		ClusterPredictive: 0.6,
	},
}

// Request carries the compression inputs used for budgeting and cache keys.
type Request struct {
	UserID      string
	MessageType string
	Complexity  int // 0–10
	Model       string
	HistoryLen  int

	// ForceStrategy overrides budget-based strategy selection when non-empty.
	ForceStrategy Strategy

	Context *entity.IntelligenceContext
}

// Result is a compressed context plus quality metrics.
type Result struct {
	Text            string
	EstimatedTokens int
	Budget          int
	Strategy        Strategy
	Fallback        bool
	ClustersUsed    []string
}

// Compressor turns a nested intelligence context into a compact tagged string
// within a computed token budget. Compression is deterministic: identical
// inputs (and dictionary version) produce byte-identical output.
type Compressor struct {
	cache  *Cache
	logger *zap.Logger
}

// NewCompressor creates a compressor backed by a bounded result cache.
func NewCompressor(cache *Cache, logger *zap.Logger) *Compressor {
	return &Compressor{
		cache:  cache,
		logger: logger.With(zap.String("component", "intelligence")),
	}
}

// Compress never fails: any internal error degrades to a one-line fallback
// marked as such in the result.
func (c *Compressor) Compress(req Request) Result {
	if key, ok := c.cacheKey(req); ok {
		if cached, hit := c.cache.Get(key); hit {
			return cached
		}
	}

	result := c.compress(req)

	if key, ok := c.cacheKey(req); ok && !result.Fallback {
		c.cache.Put(key, result)
	}

	return result
}

func (c *Compressor) compress(req Request) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("Compression panicked, using fallback", zap.Any("panic", r))
			result = c.fallback(req)
		}
	}()

	if req.Context.Empty() {
		return c.fallback(req)
	}

	budget := c.budget(req)
	strategy := req.ForceStrategy
	if strategy == "" {
		strategy = selectStrategy(budget)
	}

	clusters := partition(req.Context)

	// Adjusted priority = base × reliability × richness.
	adjusted := make(map[Cluster]float64)
	var total float64
	for cluster, entries := range clusters {
		p := basePriority[strategy][cluster] * clusterReliability[cluster] * richness(entries)
		if p > 0 {
			adjusted[cluster] = p
			total += p
		}
	}
	if total == 0 {
		return c.fallback(req)
	}

	// Allocate the budget proportionally, compress each cluster, then
	// assemble tagged sections in priority order (dynamic and emotional
	// share MICRO).
	sections := make([]section, 0, len(clusterOrder))
	var used []string
	for _, cluster := range clusterOrder {
		entries := clusters[cluster]
		if len(entries) == 0 || adjusted[cluster] == 0 {
			continue
		}
		alloc := int(float64(budget) * adjusted[cluster] / total)
		pairs := compressCluster(entries, alloc)
		if len(pairs) == 0 {
			continue
		}
		sections = appendSection(sections, sectionTags[cluster], pairs)
		used = append(used, string(cluster))
	}

	text := assemble(sections, budget)

	return Result{
		Text:            text,
		EstimatedTokens: EstimateTokens(text),
		Budget:          budget,
		Strategy:        strategy,
		Fallback:        false,
		ClustersUsed:    used,
	}
}

// budget computes B = clamp(optimal × complexity × messageType × history,
// 0, 10% of model context).
func (c *Compressor) budget(req Request) int {
	profile := ProfileFor(req.Model)

	b := float64(profile.OptimalIntelligenceTokens) *
		ComplexityFactor(req.Complexity) *
		MessageTypeFactor(req.MessageType) *
		HistoryFactor(req.HistoryLen)

	ceiling := float64(profile.MaxContextTokens) / 10
	if b > ceiling {
		b = ceiling
	}
	if b < 0 {
		b = 0
	}
	return int(b)
}

func selectStrategy(budget int) Strategy {
	switch {
	case budget <= 50:
		return StrategyMinimal
	case budget >= 150:
		return StrategyComprehensive
	default:
		return StrategyBalanced
	}
}

func (c *Compressor) fallback(req Request) Result {
	messageType := req.MessageType
	if messageType == "" {
		messageType = "standard"
	}
	text := fmt.Sprintf("User shows %s communication pattern.", messageType)
	return Result{
		Text:            text,
		EstimatedTokens: EstimateTokens(text),
		Strategy:        StrategyMinimal,
		Fallback:        true,
	}
}

func (c *Compressor) cacheKey(req Request) (string, bool) {
	if c.cache == nil || req.UserID == "" {
		return "", false
	}
	return fmt.Sprintf("%s|%s|%d|%s|%s", req.UserID, req.MessageType, req.Complexity, req.Model, AbbrevVersion), true
}

// --- per-cluster compression ---

// compressCluster picks the pair cap from the allocated tokens and emits
// abbreviated k:v pairs: ultra (<20 tokens) keeps 3, standard (20–50) keeps 6,
// detailed (>50) keeps 12.
func compressCluster(entries []clusterEntry, alloc int) []string {
	if alloc <= 0 {
		return nil
	}

	var keep int
	switch {
	case alloc < 20:
		keep = 3
	case alloc <= 50:
		keep = 6
	default:
		keep = 12
	}
	if keep > len(entries) {
		keep = len(entries)
	}

	pairs := make([]string, 0, keep)
	for _, entry := range entries[:keep] {
		v := compressValue(entry.Value)
		if v == "" {
			continue
		}
		pairs = append(pairs, abbrevKey(entry.Key)+":"+v)
	}
	return pairs
}

// compressValue recursively shortens a value: strings abbreviate, numbers
// round, arrays concatenate per-item abbreviations, and two known object
// shapes get special short forms.
func compressValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return abbrevString(val)
	case bool:
		if val {
			return "y"
		}
		return "n"
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%.1f", val)
	case int:
		return fmt.Sprintf("%d", val)
	case []interface{}:
		var sb strings.Builder
		for _, item := range val {
			sb.WriteString(compressValue(item))
		}
		return sb.String()
	case map[string]interface{}:
		return compressObject(val)
	case nil:
		return ""
	default:
		return abbrevString(fmt.Sprintf("%v", val))
	}
}

func compressObject(obj map[string]interface{}) string {
	// {trend, current} → current(trend); {emotion, intensity} → emotionN.
	if trend, okT := obj["trend"]; okT {
		if current, okC := obj["current"]; okC {
			return compressValue(current) + "(" + compressValue(trend) + ")"
		}
	}
	if emotion, okE := obj["emotion"]; okE {
		if intensity, okI := obj["intensity"]; okI {
			return compressValue(emotion) + compressValue(intensity)
		}
	}

	// Otherwise the first entry (sorted key order) stands for the object.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return compressValue(obj[keys[0]])
}

// --- assembly ---

type section struct {
	Tag   string
	Pairs []string
}

// appendSection merges into an existing tag (dynamic+emotional both map to
// MICRO) or appends a new one.
func appendSection(sections []section, tag string, pairs []string) []section {
	for i := range sections {
		if sections[i].Tag == tag {
			sections[i].Pairs = append(sections[i].Pairs, pairs...)
			return sections
		}
	}
	return append(sections, section{Tag: tag, Pairs: pairs})
}

// assemble renders `TAG{k:v,k:v} TAG{...}`, then truncates by dropping
// trailing pairs until the token estimate fits the budget.
func assemble(sections []section, budget int) string {
	render := func() string {
		var parts []string
		for _, s := range sections {
			if len(s.Pairs) == 0 {
				continue
			}
			parts = append(parts, s.Tag+"{"+strings.Join(s.Pairs, ",")+"}")
		}
		return strings.Join(parts, " ")
	}

	text := render()
	for EstimateTokens(text) > budget {
		if !dropLastPair(sections) {
			return ""
		}
		text = render()
	}
	return text
}

func dropLastPair(sections []section) bool {
	for i := len(sections) - 1; i >= 0; i-- {
		if n := len(sections[i].Pairs); n > 0 {
			sections[i].Pairs = sections[i].Pairs[:n-1]
			return true
		}
	}
	return false
}

// EstimateTokens is the coarse, monotonic, deterministic estimate used
// throughout budgeting: ceil(len/4).
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}
