package vision

import (
	"fmt"
	"strconv"
)

var cocoLabels = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}

// Label maps a class index to its name. Unknown indices are rendered as
// their number.
func Label(class int) string {
	if class >= 0 && class < len(cocoLabels) {
		return cocoLabels[class]
	}
	return strconv.Itoa(class)
}

// RawDetections is the engine's per-frame output. Only the first Valid
// entries of Scores and Classes are meaningful.
type RawDetections struct {
	Boxes   [][4]float32 `json:"boxes"`
	Scores  []float32    `json:"scores"`
	Classes []int        `json:"classes"`
	Valid   int          `json:"valid_detections"`
}

// Summarize groups detections by class in order of first appearance. Each
// confidence is formatted with two decimals. Detections scoring below
// threshold are skipped.
func Summarize(raw *RawDetections, threshold float64) []Detection {
	if raw == nil {
		return []Detection{}
	}

	n := raw.Valid
	if n > len(raw.Scores) {
		n = len(raw.Scores)
	}
	if n > len(raw.Classes) {
		n = len(raw.Classes)
	}

	summary := []Detection{}
	index := make(map[string]int)
	for i := 0; i < n; i++ {
		score := raw.Scores[i]
		if float64(score) < threshold {
			continue
		}
		name := Label(raw.Classes[i])
		conf := fmt.Sprintf("%.2f", score)

		if pos, ok := index[name]; ok {
			summary[pos].Count++
			summary[pos].Confidence = append(summary[pos].Confidence, conf)
			continue
		}
		index[name] = len(summary)
		summary = append(summary, Detection{Class: name, Count: 1, Confidence: []string{conf}})
	}
	return summary
}
