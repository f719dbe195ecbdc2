package procmon

import "strings"

// Registry key fragments associated with autorun persistence. Matched
// case-insensitively against registry operation paths.
var autorunIndicators = []string{
	`\run\`,
	`\runonce\`,
	`currentversion\run`,
	`startup`,
	`userinit`,
	`shell`,
	`winlogon`,
	`image file execution`,
	`appinit_dlls`,
	`\services\`,
}

var taskFolderIndicators = []string{
	`\tasks\`,
	`system32\tasks`,
}

var executableExtensions = []string{".exe", ".dll", ".sys"}

// IsAutorunPath reports whether a registry path touches a known autorun
// location.
func IsAutorunPath(path string) bool {
	lp := strings.ToLower(path)
	for _, ind := range autorunIndicators {
		if strings.Contains(lp, ind) {
			return true
		}
	}
	return false
}

// IsTaskFolderPath reports whether a file path lands in the scheduled
// tasks folder.
func IsTaskFolderPath(path string) bool {
	lp := strings.ToLower(path)
	for _, ind := range taskFolderIndicators {
		if strings.Contains(lp, ind) {
			return true
		}
	}
	return false
}

// IsExecutablePath reports whether the path carries an executable
// extension.
func IsExecutablePath(path string) bool {
	lp := strings.ToLower(path)
	for _, ext := range executableExtensions {
		if strings.HasSuffix(lp, ext) {
			return true
		}
	}
	return false
}

// IsNewFileDetail reports whether a CreateFile detail string indicates
// the file was newly created rather than merely opened.
func IsNewFileDetail(detail string) bool {
	return strings.Contains(strings.ToLower(detail), "openresult: created")
}
