package arbiter

import "time"

// Detection is one detector-reported bounding box (spec.md §6 "Detector
// interface").
type Detection struct {
	Kind       string
	X, Y       int
	W, H       int
	Confidence float64
}

// IngestDetections selects the largest bounding box from a frame's
// detections and forwards it as a TrackTarget command. The remaining
// detections are discarded by the controller but are expected to still
// reach telemetry via the caller (spec.md §6: "all other fields are
// passed through to telemetry").
func (a *CommandArbiter) IngestDetections(detections []Detection, frameW, frameH int, ts time.Time) {
	if len(detections) == 0 {
		return
	}
	a.noteActivity()

	largest := detections[0]
	largestArea := largest.W * largest.H
	for _, d := range detections[1:] {
		if area := d.W * d.H; area > largestArea {
			largest = d
			largestArea = area
		}
	}

	cx := largest.X + largest.W/2
	cy := largest.Y + largest.H/2
	a.Submit(TrackTarget{CX: cx, CY: cy, FrameW: frameW, FrameH: frameH, Timestamp: ts})
}
