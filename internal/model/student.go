package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire and form format for graduation dates.
const DateLayout = "2006-01-02"

// Student is a single directory entry.
type Student struct {
	ID             int64      `json:"id"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	SchoolEmail    string     `json:"school_email"`
	Major          Major      `json:"major"`
	GraduationDate *time.Time `json:"graduation_date"`
	ProfilePhotoID *uuid.UUID `json:"profile_photo_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// FullName joins first and last name for display.
func (s *Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// HasPhoto reports whether a profile photo blob is attached.
func (s *Student) HasPhoto() bool {
	return s.ProfilePhotoID != nil
}

// StudentForm is the payload for creating a student, from either the HTML
// form (student[...] fields) or a JSON body.
type StudentForm struct {
	FirstName      string `json:"first_name" binding:"required,max=100"`
	LastName       string `json:"last_name" binding:"required,max=100"`
	SchoolEmail    string `json:"school_email" binding:"required,max=255"`
	Major          Major  `json:"major" binding:"required,major"`
	GraduationDate string `json:"graduation_date" binding:"omitempty,datetime=2006-01-02"`
}

// StudentFormFromMap builds a form from student[...] parameters.
func StudentFormFromMap(m map[string]string) StudentForm {
	return StudentForm{
		FirstName:      m["first_name"],
		LastName:       m["last_name"],
		SchoolEmail:    m["school_email"],
		Major:          Major(m["major"]),
		GraduationDate: m["graduation_date"],
	}
}

// Normalize trims surrounding whitespace from every field.
func (f *StudentForm) Normalize() {
	f.FirstName = strings.TrimSpace(f.FirstName)
	f.LastName = strings.TrimSpace(f.LastName)
	f.SchoolEmail = strings.TrimSpace(f.SchoolEmail)
	f.Major = Major(strings.TrimSpace(string(f.Major)))
	f.GraduationDate = strings.TrimSpace(f.GraduationDate)
}

// Student converts a validated form into a record ready for insertion.
func (f *StudentForm) Student() (*Student, error) {
	s := &Student{
		FirstName:   f.FirstName,
		LastName:    f.LastName,
		SchoolEmail: f.SchoolEmail,
		Major:       f.Major,
	}
	if f.GraduationDate != "" {
		d, err := time.Parse(DateLayout, f.GraduationDate)
		if err != nil {
			return nil, err
		}
		s.GraduationDate = &d
	}
	return s, nil
}
