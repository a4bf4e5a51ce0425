// Package ttm models the transtheoretical (TTM) stages of behavior change
// used to tune the assistant's coaching tone and reminder aggressiveness.
package ttm

import (
	"fmt"
	"strings"
)

// Stage is one of the five ordered TTM stages. The ordering reflects typical
// forward progression, but the persisted value may move in either direction.
type Stage int

const (
	Precontemplation Stage = iota + 1
	Contemplation
	Preparation
	Action
	Maintenance
)

const DefaultStage = Precontemplation

var stageNames = map[Stage]string{
	Precontemplation: "Precontemplation",
	Contemplation:    "Contemplation",
	Preparation:      "Preparation",
	Action:           "Action",
	Maintenance:      "Maintenance",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}

// Parse resolves a stage name case-insensitively. Unknown names are an error;
// callers must not fall back silently because a bogus stage would otherwise
// corrupt the compiled assistant instructions.
func Parse(name string) (Stage, error) {
	trimmed := strings.TrimSpace(name)
	for stage, known := range stageNames {
		if strings.EqualFold(trimmed, known) {
			return stage, nil
		}
	}
	return 0, fmt.Errorf("unknown ttm stage: %q", name)
}

// ParseOrDefault is for reading persisted rows, where an empty or legacy
// value degrades to the starting stage instead of failing the query.
func ParseOrDefault(name string) Stage {
	stage, err := Parse(name)
	if err != nil {
		return DefaultStage
	}
	return stage
}

func All() []Stage {
	return []Stage{Precontemplation, Contemplation, Preparation, Action, Maintenance}
}

// Guidance is the per-stage coaching text injected into the assistant
// instructions. The wording is product copy, treated as configuration.
type Guidance struct {
	Description      string
	TaskStrategy     string
	ReminderStrategy string
	CoachingStyle    string
}

var stageGuidance = map[Stage]Guidance{
	Precontemplation: {
		Description:      "User is in the Precontemplation stage, meaning they are not yet considering behavior change. Avoid direct persuasion, instead use curiosity-based nudges and social proof.",
		TaskStrategy:     "Suggest tasks indirectly. Focus on sparking curiosity rather than making commitments.",
		ReminderStrategy: "Rare reminders. Only gentle nudges, avoiding direct encouragement.",
		CoachingStyle:    "Encouraging, non-directive. Avoid pressure, use questions instead.",
	},
	Contemplation: {
		Description:      "User is in the Contemplation stage, meaning they are considering change but have not committed yet. Provide informative nudges and allow them to explore options.",
		TaskStrategy:     "Provide low-pressure suggestions. Offer information on benefits.",
		ReminderStrategy: "Occasional reminders. Allow user to set preferred frequency.",
		CoachingStyle:    "Supportive, informative, and non-pushy.",
	},
	Preparation: {
		Description:      "User is in the Preparation stage, meaning they are ready to start changing behavior. Provide structured guidance and encouragement.",
		TaskStrategy:     "Offer step-by-step guidance. Suggest reminders and deadlines.",
		ReminderStrategy: "Increase frequency. Provide motivation and goal-setting strategies.",
		CoachingStyle:    "Positive reinforcement, goal-setting focus.",
	},
	Action: {
		Description:      "User is in the Action stage, meaning they are actively working on the behavior. Help them sustain motivation and track progress.",
		TaskStrategy:     "Encourage consistent execution. Provide tracking and progress reports.",
		ReminderStrategy: "Frequent reminders. Reinforce success and celebrate progress.",
		CoachingStyle:    "Motivational, structured, progress-based.",
	},
	Maintenance: {
		Description:      "User is in the Maintenance stage, meaning they have successfully incorporated the behavior into their routine. Reduce intervention, focus on long-term engagement.",
		TaskStrategy:     "Allow user autonomy. Provide occasional check-ins for support.",
		ReminderStrategy: "Minimal reminders. Focus on sustainability.",
		CoachingStyle:    "Supportive, minimal interference, focus on autonomy.",
	},
}

func (s Stage) Guidance() Guidance {
	if g, ok := stageGuidance[s]; ok {
		return g
	}
	return stageGuidance[DefaultStage]
}
