package sentiment

import (
	"math"

	"catalyst-bot/internal/types"
)

// Classifier is a fixed-weight linear model over headline token features.
// Weights were fit offline on labeled catalyst headlines; the model here
// only does inference. Like the lexical scorer it is always available.
type Classifier struct {
	weights map[string]float64
	bias    float64
}

func NewClassifier() *Classifier {
	return &Classifier{
		weights: classifierWeights(),
	}
}

// Score runs the model over the texts and returns a reading in [-1,1],
// squashed through tanh so extreme headline stacks stay bounded.
func (c *Classifier) Score(texts []string) types.SentimentReading {
	reading := types.SentimentReading{
		Source:     "classifier",
		Confidence: 0.35,
		Available:  true,
	}

	var activation float64
	var hits int
	for _, text := range texts {
		for _, word := range tokenize(text) {
			if w, ok := c.weights[word]; ok {
				activation += w
				hits++
			}
		}
	}
	if hits == 0 {
		return reading
	}

	reading.Score = math.Tanh(c.bias + activation/float64(hits)*2)
	reading.Confidence = 0.35 + 0.45*minf(1, float64(hits)/10)
	return reading
}

func classifierWeights() map[string]float64 {
	return map[string]float64{
		// earnings / guidance
		"beat": 0.9, "beats": 0.9, "miss": -0.9, "misses": -0.9,
		"guidance": 0.1, "raises": 0.8, "lowers": -0.8, "reaffirms": 0.2,
		// analyst action
		"upgrade": 0.8, "upgraded": 0.8, "downgrade": -0.8, "downgraded": -0.8,
		"initiates": 0.3, "overweight": 0.5, "underweight": -0.5,
		// regulatory / clinical
		"approval": 0.9, "approved": 0.9, "fda": 0.2, "rejected": -0.9,
		"clearance": 0.7, "crl": -0.9, "phase": 0.1, "trial": 0.0,
		// corporate events
		"acquisition": 0.6, "merger": 0.5, "buyback": 0.6, "dividend": 0.4,
		"offering": -0.7, "dilution": -0.8, "split": 0.1, "spinoff": 0.2,
		// distress
		"bankruptcy": -1.0, "default": -0.9, "delist": -0.9, "fraud": -1.0,
		"investigation": -0.6, "lawsuit": -0.5, "recall": -0.6, "halt": -0.5,
		// momentum words
		"surge": 0.5, "soar": 0.5, "plunge": -0.5, "crash": -0.6,
		"rally": 0.4, "selloff": -0.4, "record": 0.4,
	}
}
