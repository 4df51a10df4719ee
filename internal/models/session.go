// Package models defines the events handed to external collaborators.
package models

import (
	"talk-coach-engine/internal/service/aggregator"
	"talk-coach-engine/internal/service/timeline"
)

// Event types, also sent as the Kafka eventType header.
const (
	EventScoreUpdated   = "coach.score.updated"
	EventTimelineSealed = "coach.timeline.sealed"
	EventTipRequested   = "coach.tip.requested"
)

// ScoreUpdated is a live score update, published at most once per score tick.
type ScoreUpdated struct {
	EventType string             `json:"eventType"`
	SessionID string             `json:"sessionId"`
	Timestamp int64              `json:"timestamp"`
	Score     int                `json:"score"`
	RawScore  int                `json:"rawScore"`
	Cues      []string           `json:"cues"`
	Metrics   aggregator.Metrics `json:"metrics"`
	Speech    string             `json:"speechStatus"`
	Body      string             `json:"bodyStatus"`
}

// TimelineSealed carries a sealed timeline to the report generator.
type TimelineSealed struct {
	EventType string                   `json:"eventType"`
	SessionID string                   `json:"sessionId"`
	Timestamp int64                    `json:"timestamp"`
	Timeline  timeline.SessionTimeline `json:"timeline"`
}

// TipRequested asks the coaching-tip collaborator for a mid-session tip.
type TipRequested struct {
	EventType        string             `json:"eventType"`
	SessionID        string             `json:"sessionId"`
	Timestamp        int64              `json:"timestamp"`
	Mode             string             `json:"mode"`
	RecentTranscript string             `json:"recentTranscript"`
	Metrics          aggregator.Metrics `json:"metrics"`
	Score            int                `json:"score"`
	Cues             []string           `json:"cues,omitempty"`
}
