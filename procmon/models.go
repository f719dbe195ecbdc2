package procmon

import "time"

// Columns is Procmon's default CSV export order. Every tabular file this
// package writes or reads carries exactly this header; the categorizer,
// query layer and report all address columns by these names.
var Columns = []string{
	"Time of Day",
	"Process Name",
	"PID",
	"Operation",
	"Path",
	"Result",
	"Detail",
	"Command Line",
	"User",
	"Image Path",
	"Parent PID",
	"Architecture",
	"Integrity",
	"Category",
	"Event Class",
	"TID",
	"Duration",
	"Date & Time",
	"Relative Time",
	"Completion Time",
	"Session",
	"Company",
	"Description",
	"Version",
	"Authentication ID",
	"Virtualized",
	"Sequence",
}

// Event is one monitored operation.
type Event struct {
	TimeOfDay        string
	ProcessName      string
	PID              string
	Operation        string
	Path             string
	Result           string
	Detail           string
	CommandLine      string
	User             string
	ImagePath        string
	ParentPID        string
	Architecture     string
	Integrity        string
	Category         string
	EventClass       string
	TID              string
	Duration         string
	DateTime         string
	RelativeTime     string
	CompletionTime   string
	Session          string
	Company          string
	Description      string
	Version          string
	AuthenticationID string
	Virtualized      string
	Sequence         string
}

// Row returns the event's fields in Columns order.
func (e *Event) Row() []string {
	return []string{
		e.TimeOfDay,
		e.ProcessName,
		e.PID,
		e.Operation,
		e.Path,
		e.Result,
		e.Detail,
		e.CommandLine,
		e.User,
		e.ImagePath,
		e.ParentPID,
		e.Architecture,
		e.Integrity,
		e.Category,
		e.EventClass,
		e.TID,
		e.Duration,
		e.DateTime,
		e.RelativeTime,
		e.CompletionTime,
		e.Session,
		e.Company,
		e.Description,
		e.Version,
		e.AuthenticationID,
		e.Virtualized,
		e.Sequence,
	}
}

func eventFromRow(row []string) Event {
	var e Event
	fields := []*string{
		&e.TimeOfDay, &e.ProcessName, &e.PID, &e.Operation, &e.Path,
		&e.Result, &e.Detail, &e.CommandLine, &e.User, &e.ImagePath,
		&e.ParentPID, &e.Architecture, &e.Integrity, &e.Category,
		&e.EventClass, &e.TID, &e.Duration, &e.DateTime, &e.RelativeTime,
		&e.CompletionTime, &e.Session, &e.Company, &e.Description,
		&e.Version, &e.AuthenticationID, &e.Virtualized, &e.Sequence,
	}
	for i, f := range fields {
		if i < len(row) {
			*f = row[i]
		}
	}
	return e
}

// Capture is one catalog entry per converted tabular file.
// The SHA-256 digest of the file ties the row to its content, so a
// re-converted capture under the same path gets a fresh entry.
type Capture struct {
	ID          uint   `gorm:"primaryKey"`
	CSVPath     string `gorm:"uniqueIndex:uniq_csv_sha;size:1024"`
	SHA256      string `gorm:"uniqueIndex:uniq_csv_sha;size:64"`
	SourcePML   string `gorm:"size:1024"`
	Scenario    string `gorm:"index;size:64"`
	ProcFilter  string `gorm:"size:256"`
	RowCount    int64
	SizeBytes   int64
	ConvertedAt time.Time `gorm:"index"`
}
