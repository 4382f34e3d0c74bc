package intelligence

import (
	"sort"

	"github.com/elysia-ai/elysia/internal/domain/entity"
)

// Cluster names the seven semantic partitions of the intelligence context.
type Cluster string

const (
	ClusterCore       Cluster = "core"
	ClusterDynamic    Cluster = "dynamic"
	ClusterContextual Cluster = "contextual"
	ClusterPredictive Cluster = "predictive"
	ClusterBehavioral Cluster = "behavioral"
	ClusterEmotional  Cluster = "emotional"
	ClusterCognitive  Cluster = "cognitive"
)

// clusterOrder is the assembly priority: MICRO, TOPIC, CORE, BEHAV, COG, PRED.
// Dynamic and emotional share the MICRO section.
var clusterOrder = []Cluster{
	ClusterDynamic,
	ClusterEmotional,
	ClusterContextual,
	ClusterCore,
	ClusterBehavioral,
	ClusterCognitive,
	ClusterPredictive,
}

// sectionTags maps clusters to the tagged-section names in the output.
var sectionTags = map[Cluster]string{
	ClusterDynamic:    "MICRO",
	ClusterEmotional:  "MICRO",
	ClusterContextual: "TOPIC",
	ClusterCore:       "CORE",
	ClusterBehavioral: "BEHAV",
	ClusterCognitive:  "COG",
	ClusterPredictive: "PRED",
}

// clusterReliability is a fixed confidence weight per cluster. Current-state
// signals are trusted more than long-horizon predictions.
var clusterReliability = map[Cluster]float64{
	ClusterCore:       0.9,
	ClusterDynamic:    0.85,
	ClusterContextual: 0.7,
	ClusterPredictive: 0.6,
	ClusterBehavioral: 0.8,
	ClusterEmotional:  0.9,
	ClusterCognitive:  0.75,
}

// keyClusters routes known keys to their cluster.
var keyClusters = map[string]Cluster{
	"personality":        ClusterCore,
	"coreValues":         ClusterCore,
	"identity":           ClusterCore,
	"currentState":       ClusterDynamic,
	"energyLevel":        ClusterDynamic,
	"engagement":         ClusterDynamic,
	"attention":          ClusterDynamic,
	"messageComplexity":  ClusterDynamic,
	"topic":              ClusterContextual,
	"currentTopic":       ClusterContextual,
	"conversationDepth":  ClusterContextual,
	"interactionPattern": ClusterContextual,
	"recentTrends":       ClusterContextual,
	"nextLikelyNeed":     ClusterPredictive,
	"anticipatedTopics":  ClusterPredictive,
	"predictedMood":      ClusterPredictive,
	"currentMoment":      ClusterPredictive,
	"communicationStyle": ClusterBehavioral,
	"responseLength":     ClusterBehavioral,
	"habits":             ClusterBehavioral,
	"primaryEmotion":     ClusterEmotional,
	"emotionalIntensity": ClusterEmotional,
	"emotionalState":     ClusterEmotional,
	"emotionalTrend":     ClusterEmotional,
	"mood":               ClusterEmotional,
	"cognitiveStyle":     ClusterCognitive,
	"learningStyle":      ClusterCognitive,
	"decisionMaking":     ClusterCognitive,
	"processingSpeed":    ClusterCognitive,
}

// layerFallback assigns unknown keys by their source layer.
var layerFallback = map[string]Cluster{
	"micro":     ClusterDynamic,
	"medium":    ClusterContextual,
	"macro":     ClusterCore,
	"synthesis": ClusterPredictive,
}

// clusterEntry is one k:v candidate within a cluster, kept in a deterministic
// (sorted-key) order.
type clusterEntry struct {
	Key   string
	Value interface{}
}

// partition splits the four analytical layers into the seven clusters.
func partition(ctx *entity.IntelligenceContext) map[Cluster][]clusterEntry {
	clusters := make(map[Cluster][]clusterEntry)

	layers := []struct {
		name string
		data map[string]interface{}
	}{
		{"micro", ctx.Micro},
		{"medium", ctx.Medium},
		{"macro", ctx.Macro},
		{"synthesis", ctx.Synthesis},
	}

	for _, layer := range layers {
		keys := make([]string, 0, len(layer.data))
		for k := range layer.data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			cluster, ok := keyClusters[k]
			if !ok {
				cluster = layerFallback[layer.name]
			}
			clusters[cluster] = append(clusters[cluster], clusterEntry{Key: k, Value: layer.data[k]})
		}
	}

	return clusters
}

// richness is min(1, keyCount/10).
func richness(entries []clusterEntry) float64 {
	r := float64(len(entries)) / 10
	if r > 1 {
		return 1
	}
	return r
}
