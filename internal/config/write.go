package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// sectionHeaderPrefix is the line prefix that starts a TOML section header
// for root sections. Used to detect section boundaries in line-based edits.
const sectionHeaderPrefix = "[root."

// validRootName matches the bareword root names this package accepts —
// TOML dotted-key tables ("[root.NAME]") need no quoting when NAME is a
// plain identifier, so root names are restricted to this shape rather than
// carrying the quoting logic the teacher's canonical-ID sections needed.
var validRootName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidRootName reports whether name is safe to use as an unquoted
// "[root.NAME]" TOML table header.
func ValidRootName(name string) bool {
	return name != "" && validRootName.MatchString(name)
}

// configTemplate is the default config file content written on first `root
// add`. All global settings are present as commented-out defaults so users
// can discover every option without reading docs. This template is written
// once and never regenerated — user modifications are preserved by
// subsequent text-level edits.
const configTemplate = `# davsync configuration
# Docs: https://github.com/tonimelisma/davsync

# ── Global settings ──
# Uncomment and modify to override defaults.

# Number of concurrent upload/download jobs (spec §4.6).
# parallelism = 6

# Files at or above this size switch to chunked upload.
# chunk_threshold = "10MiB"

# Interval between remote etag polls when the server doesn't advertise one.
# remote_poll_interval = "30s"

# ── Roots ──
# Each [root.NAME] section pairs one local directory with one remote
# WebDAV collection. Added by 'davsync root add'.
`

// rootSection generates the TOML text for a new root section. The blank
// line before the header is intentional — it visually separates root
// sections from each other and from the global settings.
func rootSection(name, serverURL, remotePath, syncDir string) string {
	return fmt.Sprintf("\n[root.%s]\nserver_url = %q\nremote_path = %q\nsync_dir = %q\n",
		name, serverURL, remotePath, syncDir)
}

// CreateConfigWithRoot creates a new config file from the default template
// and appends one root section. Used by `root add` when no config file
// exists yet. The write is atomic (temp file + rename) and parent
// directories are created as needed.
func CreateConfigWithRoot(path, name, serverURL, remotePath, syncDir string) error {
	if !ValidRootName(name) {
		return fmt.Errorf("root name %q must match %s", name, validRootName.String())
	}

	content := configTemplate + rootSection(name, serverURL, remotePath, syncDir)

	return atomicWriteFile(path, []byte(content))
}

// AppendRootSection appends a new root section at the end of an existing
// config file. Used by subsequent `root add` calls. The write is atomic to
// avoid partial writes on crash.
func AppendRootSection(path, name, serverURL, remotePath, syncDir string) error {
	if !ValidRootName(name) {
		return fmt.Errorf("root name %q must match %s", name, validRootName.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	content := string(data)

	// Ensure the file ends with a newline before appending, so the new
	// section header starts on its own line.
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	content += rootSection(name, serverURL, remotePath, syncDir)

	return atomicWriteFile(path, []byte(content))
}

// SetRootKey finds a root section by name and sets a key-value pair. If the
// key already exists within the section, its line is replaced. If not
// found, the key is inserted on the line after the section header.
//
// Value formatting: booleans ("true"/"false") are written without quotes;
// all other values are written as quoted strings.
func SetRootKey(path, name, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, sectionStart := findSectionHeader(lines, name)
	if sectionStart < 0 {
		return fmt.Errorf("root section %q not found in config", name)
	}

	formattedValue := formatTOMLValue(value)
	newLine := fmt.Sprintf("%s = %s", key, formattedValue)

	lines = setKeyInSection(lines, headerLine, sectionStart, key, newLine)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// DeleteRootKey removes a single key from a root section. Idempotent:
// returns nil if the key does not exist in the section. Used by `resume`
// to clear the `paused` key.
func DeleteRootKey(path, name, key string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, sectionStart := findSectionHeader(lines, name)
	if sectionStart < 0 {
		return fmt.Errorf("root section %q not found in config", name)
	}

	lines = deleteKeyInSection(lines, headerLine, sectionStart, key)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// DeleteRootSection removes a root section (header + all keys) from the
// config file. Also removes blank lines immediately preceding the section
// header for clean formatting. Used by `root remove`.
func DeleteRootSection(path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, sectionStart := findSectionHeader(lines, name)
	if sectionStart < 0 {
		return fmt.Errorf("root section %q not found in config", name)
	}

	sectionEnd := findSectionEnd(lines, sectionStart)

	// Remove preceding blank lines for clean formatting. Start from the
	// header line itself so the entire section (header + content) is deleted.
	blankStart := headerLine
	for blankStart > 0 && strings.TrimSpace(lines[blankStart-1]) == "" {
		blankStart--
	}

	lines = append(lines[:blankStart], lines[sectionEnd:]...)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// DefaultSyncDir computes a default sync directory for a newly added root,
// disambiguated against existingDirs by appending "-2", "-3", ... on
// collision. Unlike the teacher's OneDrive/SharePoint-specific naming
// scheme (personal/business/SharePoint each had their own base path), a
// WebDAV root has no such taxonomy — the root's own chosen name is the only
// identity available, so it is the base path directly.
func DefaultSyncDir(name string, existingDirs []string) string {
	base := "~/davsync/" + name
	if !containsExpanded(existingDirs, base) {
		return base
	}

	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !containsExpanded(existingDirs, candidate) {
			return candidate
		}
	}
}

// containsExpanded compares with tilde expansion so
// "~/davsync/work" matches "/home/user/davsync/work".
func containsExpanded(dirs []string, candidate string) bool {
	expanded := expandTilde(candidate)

	for _, d := range dirs {
		if expandTilde(d) == expanded {
			return true
		}
	}

	return false
}

// SanitizePathComponent replaces filesystem-unsafe characters with "-".
// Exported for use by callers that build path components from user data.
func SanitizePathComponent(s string) string {
	// Replace: / \ : < > " | ? *
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"<", "-",
		">", "-",
		"\"", "-",
		"|", "-",
		"?", "-",
		"*", "-",
	)

	result := replacer.Replace(s)

	// Collapse consecutive dashes.
	for strings.Contains(result, "--") {
		result = strings.ReplaceAll(result, "--", "-")
	}

	return strings.Trim(result, "- ")
}

// findSectionHeader locates the line index of a root section header.
// Returns the header line index and the section content start (header + 1).
// Returns -1 for both if the section is not found.
func findSectionHeader(lines []string, name string) (int, int) {
	header := "[root." + name + "]"

	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			return i, i + 1
		}
	}

	return -1, -1
}

// findSectionEnd returns the index of the first line after the section's
// own content. This excludes blank lines and comments that precede the
// next section header (those belong to the next section's preamble, not
// this section's content).
func findSectionEnd(lines []string, sectionStart int) int {
	nextHeader := len(lines)

	for i := sectionStart; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, sectionHeaderPrefix) || strings.HasPrefix(trimmed, "[") {
			nextHeader = i

			break
		}
	}

	// Walk backwards from the next section header to skip blank lines and
	// comment lines that belong to the next section's preamble.
	end := nextHeader
	for end > sectionStart {
		trimmed := strings.TrimSpace(lines[end-1])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			end--

			continue
		}

		break
	}

	return end
}

// deleteKeyInSection removes a key line from a section if it exists.
// Returns the original slice unchanged if the key is not found.
func deleteKeyInSection(lines []string, headerLine, sectionStart int, key string) []string {
	sectionEnd := findSectionEnd(lines, sectionStart)
	keyPrefix := key + " "
	keyPrefixEq := key + "="

	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, keyPrefix) || strings.HasPrefix(trimmed, keyPrefixEq) {
			return append(lines[:i], lines[i+1:]...)
		}
	}

	return lines
}

// setKeyInSection either replaces an existing key line or inserts a new
// one after the section header.
func setKeyInSection(lines []string, headerLine, sectionStart int, key, newLine string) []string {
	sectionEnd := findSectionEnd(lines, sectionStart)
	keyPrefix := key + " "
	keyPrefixEq := key + "="

	// Search for existing key within the section.
	for i := headerLine + 1; i < sectionEnd; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, keyPrefix) || strings.HasPrefix(trimmed, keyPrefixEq) {
			lines[i] = newLine

			return lines
		}
	}

	// Key not found — insert after header.
	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:headerLine+1]...)
	inserted = append(inserted, newLine)
	inserted = append(inserted, lines[headerLine+1:]...)

	return inserted
}

// formatTOMLValue formats a value for TOML output. Booleans are written
// bare (true/false); all other values are quoted strings.
func formatTOMLValue(value string) string {
	if value == "true" || value == "false" {
		return value
	}

	return fmt.Sprintf("%q", value)
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. This prevents partial writes
// from corrupting the config file on crash. Parent directories are created
// as needed. Files are created with configFilePermissions (0644).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	// Flush data to disk before rename. Without fsync, a power loss after
	// rename could leave the file empty (rename is metadata-only on POSIX).
	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
