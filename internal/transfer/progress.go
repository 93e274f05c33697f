package transfer

// Role distinguishes the two ends of a transfer in progress reports.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// Progress is a point-in-time transfer snapshot.
type Progress struct {
	Role       Role
	FileID     string
	Name       string
	Completed  int
	Total      int
	Percentage int
	Done       bool
	Err        error
}

func progressFor(role Role, md Metadata, completed int, err error) Progress {
	p := Progress{
		Role:      role,
		FileID:    md.FileID,
		Name:      md.Name,
		Completed: completed,
		Total:     md.TotalChunks,
		Err:       err,
	}
	if md.TotalChunks == 0 {
		// Zero-byte files are complete the moment metadata lands.
		p.Percentage = 100
	} else {
		// Rounded to the nearest point: 1/3 reports 33, 2/3 reports 67.
		p.Percentage = (completed*200 + md.TotalChunks) / (2 * md.TotalChunks)
	}
	p.Done = err == nil && completed == md.TotalChunks
	return p
}
