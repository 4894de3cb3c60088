// Package labeling asks a vision model to name what each extracted crop shows.
package labeling

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/menta2k/crop-surface/pkg/client"
	"github.com/menta2k/crop-surface/pkg/types"
)

// SimpleTestPrompt checks whether the model can see images at all
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks for one label per crop
const DefaultPrompt = `You are labeling a cropped region of a larger image.

Return JSON only:
{
  "label": "string",
  "confidence": 0.0,
  "description": "short neutral sentence (≤ 20 words)",
  "tags": ["tag1", "tag2", "tag3", "tag4", "tag5"]
}

HARD RULES
- The label names the dominant subject of the crop in one or two words.
- Confidence is in [0,1].
- Description must be brief and factual. Do not guess real identities.
- Tags: lowercase, concise, no punctuation or duplicates.
- If the crop shows nothing recognisable, return:
  {"label":"none","confidence":0.0,"description":"no clear subject","tags":["none"]}
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Labeler labels artifacts through a vision client
type Labeler struct {
	client      client.VisionClient
	prompt      string
	concurrency int
}

// NewLabeler creates a labeler that sends one request at a time
func NewLabeler(c client.VisionClient) *Labeler {
	return &Labeler{client: c, prompt: DefaultPrompt, concurrency: 1}
}

// SetPrompt replaces the labeling prompt
func (l *Labeler) SetPrompt(prompt string) {
	if prompt != "" {
		l.prompt = prompt
	}
}

// SetConcurrency bounds the number of requests in flight
func (l *Labeler) SetConcurrency(n int) {
	if n > 0 {
		l.concurrency = n
	}
}

// Label labels a single artifact
func (l *Labeler) Label(ctx context.Context, model string, a types.Artifact) (types.Label, error) {
	if len(a.Data) == 0 {
		return types.Label{}, fmt.Errorf("artifact has no data")
	}
	result, err := l.client.DescribeImage(ctx, model, l.prompt, a.Base64())
	if err != nil {
		return types.Label{}, err
	}
	return adjustLabel(*result), nil
}

// LabelArtifacts labels every artifact of the map. Artifacts whose request
// fails get no entry, so the result may be partial; the returned error joins
// the individual failures.
func (l *Labeler) LabelArtifacts(ctx context.Context, model string, artifacts types.ArtifactMap) (map[string]types.Label, error) {
	out := make(map[string]types.Label, len(artifacts))
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []string
	)
	sem := make(chan struct{}, l.concurrency)

	for _, id := range artifacts.IDs() {
		wg.Add(1)
		go func(id string, a types.Artifact) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				errs = append(errs, fmt.Sprintf("%s: %v", id, ctx.Err()))
				mu.Unlock()
				return
			}
			defer func() { <-sem }()

			label, err := l.Label(ctx, model, a)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", id, err))
				return
			}
			out[id] = label
		}(id, artifacts[id])
	}
	wg.Wait()

	if len(errs) > 0 {
		return out, fmt.Errorf("labeling failed for %d of %d artifacts: %s", len(errs), len(artifacts), strings.Join(errs, "; "))
	}
	return out, nil
}

// TestVision checks if the model can see an artifact with a simple prompt
func (l *Labeler) TestVision(ctx context.Context, model string, a types.Artifact) (string, error) {
	return l.client.SimpleQuery(ctx, model, SimpleTestPrompt, a.Base64())
}

// adjustLabel cleans tags, clamps confidence and marks fallback replies as none
func adjustLabel(label types.Label) types.Label {
	label.Label = strings.TrimSpace(label.Label)
	label.Tags = normalizeTags(label.Tags)
	label.Confidence = clamp(label.Confidence, 0, 1)

	if strings.ToLower(label.Label) == "none" || label.Label == "" {
		label.Label = "none"
		label.Confidence = 0
		return label
	}

	fallbackIndicators := []string{"unclear", "parse", "fallback", "non-json"}
	for _, indicator := range fallbackIndicators {
		if strings.Contains(strings.ToLower(label.Label), indicator) {
			label.Label = "none"
			label.Confidence = 0
			break
		}
	}
	return label
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeTags lower-cases, de-duplicates and keeps at most 5 tags
func normalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 5)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}
