package mirror

import (
	"regexp"
	"strings"
)

// invalidNameChars are characters that cannot appear in file or
// directory names on at least one supported platform.
var invalidNameChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// maxNameLen keeps names under common filesystem limits, leaving room
// for extensions and staging suffixes.
const maxNameLen = 200

// SanitizeName makes a course, module or file name safe to use as a
// single path component.
func SanitizeName(name string) string {
	s := invalidNameChars.ReplaceAllString(name, "_")

	// Strip control characters.
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)

	// Trailing dots and spaces break Windows paths.
	s = strings.Trim(s, " .")

	if len(s) > maxNameLen {
		s = s[:maxNameLen]
		s = strings.TrimRight(s, " .")
	}

	if s == "" {
		return "untitled"
	}
	return s
}

// CourseFilePath builds the mirror path for a course Files-area file:
// <course>/Files/<name>.
func CourseFilePath(courseName, fileName string) string {
	return SanitizeName(courseName) + "/Files/" + SanitizeName(fileName)
}

// ModuleFilePath builds the mirror path for a module item:
// <course>/Modules/<module>/<name>.
func ModuleFilePath(courseName, moduleName, fileName string) string {
	return SanitizeName(courseName) + "/Modules/" + SanitizeName(moduleName) + "/" + SanitizeName(fileName)
}

// AssignmentPath builds the mirror path for an assignment description
// export: <course>/Assignments/<name>.html.
func AssignmentPath(courseName, assignmentName string) string {
	return SanitizeName(courseName) + "/Assignments/" + SanitizeName(assignmentName) + ".html"
}
