package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of an edit job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusReview     Status = "review"
	StatusCanceled   Status = "canceled"
)

// UserCancelReason is the error message set when a user explicitly cancels a job.
const UserCancelReason = "Cancel requested by user"

// DaemonStopReason is the error message set when jobs are reset due to daemon shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusQueued,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusReview,
	StatusCanceled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCanceled:  {},
}

// Options carries the user preferences attached to a job at submission time.
type Options struct {
	Pacing          string  `json:"pacing" validate:"omitempty,oneof=relaxed balanced energetic"`
	Mood            string  `json:"mood" validate:"omitempty,max=64"`
	Platform        string  `json:"platform" validate:"omitempty,oneof=youtube shorts reels tiktok archive"`
	TargetSeconds   float64 `json:"target_seconds" validate:"omitempty,gt=0,lte=7200"`
	TransitionStyle string  `json:"transition_style" validate:"omitempty,oneof=cut crossfade fade"`
	Captions        bool    `json:"captions"`
	MusicCues       bool    `json:"music_cues"`
	Tier            string  `json:"tier" validate:"omitempty,oneof=premium standard fast"`
}

// Job represents an edit job persisted in SQLite.
type Job struct {
	ID              int64
	Token           string
	SourcePath      string
	OutputPath      string
	Status          Status
	OptionsJSON     string
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	ErrorMessage    string
	Attempt         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastHeartbeat   *time.Time
	CancelRequested bool
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Completed  int
	Failed     int
	Review     int
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether the job reached a terminal status.
func (j Job) IsTerminal() bool {
	_, ok := terminalStatuses[j.Status]
	return ok
}

// IsProcessing reports whether the job is in flight.
func (j Job) IsProcessing() bool {
	return j.Status == StatusProcessing
}

// SetProgress updates the three progress fields together.
func (j *Job) SetProgress(stage, message string, percent float64) {
	j.ProgressStage = stage
	j.ProgressMessage = message
	j.ProgressPercent = percent
}

// SetFailed marks the job as failed with the given error message.
func (j *Job) SetFailed(message string) {
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.ProgressStage = "Failed"
	j.ProgressMessage = message
	j.ProgressPercent = 0
	j.LastHeartbeat = nil
}

// SetCompleted marks the job as completed with its rendered output path.
func (j *Job) SetCompleted(outputPath string) {
	j.Status = StatusCompleted
	j.OutputPath = outputPath
	j.ErrorMessage = ""
	j.ProgressStage = "Completed"
	j.ProgressMessage = "Edit rendered"
	j.ProgressPercent = 100
	j.LastHeartbeat = nil
}
