package scenario

import (
	"math"
	"math/rand/v2"
	"regexp"
	"strconv"

	"github.com/spaolacci/murmur3"

	"rca-orchestrator/backend/pkg/models"
)

const (
	// index mixing constants; they spread sequential counters across the catalog
	numericMultiplier = 7
	seedDivisor       = 1000

	minConfidence = 0.70
	maxConfidence = 0.95
)

var numericPart = regexp.MustCompile(`\d+`)

// Confidences are the per-stage self-reported certainties.
type Confidences struct {
	Diagnostic float64
	Reasoning  float64
	Planning   float64
}

// Selection is the outcome chosen for one identifier.
type Selection struct {
	Index       int
	Template    Template
	Confidences Confidences
	Severity    string
	Seed        uint32
}

// Selector picks catalog templates for analysis requests.
type Selector struct {
	catalog *Catalog
}

// NewSelector creates a Selector over catalog.
func NewSelector(catalog *Catalog) *Selector {
	return &Selector{catalog: catalog}
}

// Catalog returns the catalog the selector draws from.
func (s *Selector) Catalog() *Catalog {
	return s.catalog
}

// Select deterministically maps id and evidence to a template, confidences and severity.
func (s *Selector) Select(id string, in models.AnomalyInput) Selection {
	seed := murmur3.Sum32([]byte(id))

	numeric := uint64(seed)
	if m := numericPart.FindString(id); m != "" {
		if n, err := strconv.ParseUint(m, 10, 64); err == nil {
			numeric = n
		}
	}
	index := int((numeric*numericMultiplier + uint64(seed)/seedDivisor) % uint64(s.catalog.Len()))

	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)<<32|uint64(seed)))
	base := 0.75 + rng.Float64()*0.20
	conf := Confidences{
		Diagnostic: clampConfidence(base + uniform(rng, -0.05, 0.10)),
		Reasoning:  clampConfidence(base + uniform(rng, -0.08, 0.08)),
		Planning:   clampConfidence(base + uniform(rng, -0.03, 0.12)),
	}

	severity := in.Severity
	if severity == "" {
		severity = models.SeverityScale[seed%uint32(len(models.SeverityScale))]
	}

	return Selection{
		Index:       index,
		Template:    s.catalog.Template(index),
		Confidences: conf,
		Severity:    severity,
		Seed:        seed,
	}
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func clampConfidence(v float64) float64 {
	v = math.Max(minConfidence, math.Min(maxConfidence, v))
	return math.Round(v*1000) / 1000
}
