package ingest

import (
	"time"

	"github.com/edgeturret/turretcore/internal/arbiter"
)

// DetectorFeed is the `on_detection(list<Detection>)` entry point detector
// backends call into (spec.md §6 "Detector interface"). It is detector-
// agnostic: Haar, TFLite, or a remote inference service all call the same
// method, each with its own frame geometry.
type DetectorFeed struct {
	arb *arbiter.CommandArbiter
}

// NewDetectorFeed builds a feed bound to arb.
func NewDetectorFeed(arb *arbiter.CommandArbiter) *DetectorFeed {
	return &DetectorFeed{arb: arb}
}

// OnDetection is called by a detector backend once per processed frame.
// An empty slice means no detections this frame and is a no-op.
func (f *DetectorFeed) OnDetection(detections []arbiter.Detection, frameW, frameH int, ts time.Time) {
	f.arb.IngestDetections(detections, frameW, frameH, ts)
}
