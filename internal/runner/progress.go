package runner

import (
	"os"
	"strings"

	"github.com/cuongbtq/primitive-orchestrator/internal/domain"
)

// EstimateProgress converts a frame count into a percentage, capped below 100
// until the subprocess exits successfully.
func EstimateProgress(frames, total int) int {
	if total < 1 {
		total = 1
	}
	if frames < 0 {
		frames = 0
	}
	progress := frames * 100 / total
	if progress > domain.MaxRunningProgress {
		return domain.MaxRunningProgress
	}
	return progress
}

// countFrames counts the frame files emitted into dir so far
func countFrames(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), domain.FramePrefix) {
			count++
		}
	}
	return count, nil
}
