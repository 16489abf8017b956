package models

// DefaultModel is used when no model is chosen.
const DefaultModel = "yolo_9t"

// Task values reported in ResultMeta.
const (
	TaskDetect  = "detect"
	TaskSegment = "segment"
)

// ModelInfo is a detection model the backend can run.
type ModelInfo struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
	Task  string `json:"task" yaml:"task"`
}

// Catalog lists the selectable models in display order.
var Catalog = []ModelInfo{
	{ID: "yolo_9t", Label: "YOLO 9t (detection)", Task: TaskDetect},
	{ID: "yolo_11n", Label: "YOLO 11n (detection)", Task: TaskDetect},
	{ID: "unet", Label: "U-Net (segmentation)", Task: TaskSegment},
	{ID: "unetpp", Label: "U-Net++ (segmentation)", Task: TaskSegment},
	{ID: "maskrcnn", Label: "Mask R-CNN (segmentation)", Task: TaskSegment},
}

// LookupModel returns the catalog entry for id.
func LookupModel(id string) (ModelInfo, bool) {
	for _, m := range Catalog {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}
