package suites

import "github.com/kuitang/promptdeck-e2e/internal/scenario"

// All returns every group in run order. Later groups read facts earlier
// ones write, so the order matters.
func All() []scenario.Group {
	return []scenario.Group{
		Authentication(),
		Prompts(),
		Tagging(),
		APIKeys(),
		Analytics(),
		Experiments(),
	}
}
