package statemachine

import "time"

// Priority controls how often a Machine's recurring scheduler task
// fires, expressed as "run every N host frames" rather than as a
// concrete duration so behavior stays consistent across frame rates.
type Priority int

const (
	PriorityRender     Priority = 1
	PriorityHigh       Priority = 2
	PriorityMedium     Priority = 5
	PriorityLow        Priority = 10
	PriorityBackground Priority = 30
)

// DefaultFrameDuration approximates a 60Hz host loop. Machines convert
// their Priority into a recurring delay by multiplying this duration.
const DefaultFrameDuration = time.Second / 60
