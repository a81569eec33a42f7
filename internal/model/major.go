package model

// Major is one of the programs a student can be enrolled in. The set is
// closed; use Valid before persisting a value that came from user input.
type Major string

const (
	MajorComputerEngineering Major = "Computer Engineering BS"
	MajorComputerInfoSystems Major = "Computer Information Systems BS"
	MajorComputerScience     Major = "Computer Science BS"
	MajorCybersecurity       Major = "Cybersecurity Major"
	MajorDataScienceML       Major = "Data Science and Machine Learning Major"
)

// Majors lists every valid major in display order.
var Majors = []Major{
	MajorComputerEngineering,
	MajorComputerInfoSystems,
	MajorComputerScience,
	MajorCybersecurity,
	MajorDataScienceML,
}

// Valid reports whether m is a member of Majors.
func (m Major) Valid() bool {
	for _, v := range Majors {
		if m == v {
			return true
		}
	}
	return false
}

func (m Major) String() string { return string(m) }
