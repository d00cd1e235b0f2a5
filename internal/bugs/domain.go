package bugs

import "time"

// Severity grades the impact of a bug.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Severities lists every valid severity from lowest to highest.
func Severities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// ParseSeverity maps an external string to a Severity.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), true
	}
	return "", false
}

// rank orders severities for sorting.
func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// Status tracks a bug through its lifecycle.
type Status string

const (
	StatusNew         Status = "New"
	StatusAssigned    Status = "Assigned"
	StatusInProgress  Status = "In Progress"
	StatusUnderReview Status = "Under Review"
	StatusFixed       Status = "Fixed"
	StatusClosed      Status = "Closed"
)

// Statuses lists every valid status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusNew, StatusAssigned, StatusInProgress, StatusUnderReview, StatusFixed, StatusClosed}
}

// ParseStatus maps an external string to a Status.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusNew, StatusAssigned, StatusInProgress, StatusUnderReview, StatusFixed, StatusClosed:
		return Status(s), true
	}
	return "", false
}

// Terminal reports whether the status ends the bug's active lifecycle.
// Moving a bug into a terminal status requires the finish capability.
func (s Status) Terminal() bool {
	return s == StatusFixed || s == StatusClosed
}

// rank orders statuses for sorting.
func (s Status) rank() int {
	for i, st := range Statuses() {
		if st == s {
			return i
		}
	}
	return -1
}

// Bug is a reported defect.
type Bug struct {
	ID               string
	Title            string
	Description      string
	StepsToReproduce string
	Status           Status
	Severity         Severity
	AssignedTo       string
	ReportedBy       string
	GameArea         string
	Platform         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Comment is a discussion entry attached to a bug.
type Comment struct {
	ID        string
	BugID     string
	UserID    string
	UserName  string
	Content   string
	CreatedAt time.Time
}
