package training

import "fmt"

const modelFamily = "yolov8"

// ModelSizes are the size codes published for the model family.
var ModelSizes = []string{"n", "s", "m", "l", "x"}

// ResolveModel maps a size code ("n", "s", "m", "l", "x") to the model the
// trainer should start from: the published weights when pretrained, the bare
// architecture definition otherwise. Unknown sizes are left for the trainer
// to reject.
func ResolveModel(size string, pretrained bool) string {
	if pretrained {
		return fmt.Sprintf("%s%s.pt", modelFamily, size)
	}
	return fmt.Sprintf("%s%s.yaml", modelFamily, size)
}
