package settings

import "strings"

// Complaint is a set of user-visible reasons why the autopilot is not progressing.
type Complaint uint32

const (
	ComplaintNone Complaint = 0

	NoOreFound Complaint = 1 << iota
	ReturnFull
	ReturnHeavy
	ReturnOverworked
	WelderNotFinished
	SearchTimeout
	NoPath
)

var complaintText = []struct {
	c    Complaint
	text string
}{
	{NoOreFound, "No ore found"},
	{ReturnFull, "Returning: cargo full"},
	{ReturnHeavy, "Returning: not enough thrust"},
	{ReturnOverworked, "Returning: thrusters overworked"},
	{WelderNotFinished, "Welder did not finish"},
	{SearchTimeout, "Search timed out"},
	{NoPath, "No path to destination"},
}

func (c Complaint) Has(flag Complaint) bool { return c&flag != 0 }

// Lines returns one line of text per set flag.
func (c Complaint) Lines() []string {
	var out []string
	for _, ct := range complaintText {
		if c.Has(ct.c) {
			out = append(out, ct.text)
		}
	}
	return out
}

func (c Complaint) String() string {
	if c == ComplaintNone {
		return "None"
	}
	return strings.Join(c.Lines(), "; ")
}
