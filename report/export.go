package report

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"agentdash/config"
)

// SanitizeFilename makes name safe to use as a file name component.
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-", "*", "-", "?", "-",
		"\"", "-", "<", "-", ">", "-", "|", "-", " ", "-",
		"\n", "-", "\r", "-",
	)
	name = replacer.Replace(name)

	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}
	name = strings.Trim(name, "-.")

	if len(name) > 50 {
		name = strings.TrimRight(name[:50], "-.")
	}
	if name == "" {
		name = "report"
	}
	return name
}

// RepoName reduces a repository URL to "owner-repo" for file names.
func RepoName(repoURL string) string {
	repoURL = strings.TrimSuffix(strings.TrimSpace(repoURL), "/")
	repoURL = strings.TrimSuffix(repoURL, ".git")

	p := repoURL
	if u, err := url.Parse(repoURL); err == nil && u.Host != "" {
		p = u.Path
	} else if _, after, ok := strings.Cut(repoURL, ":"); ok {
		// scp-style git@host:owner/repo
		p = after
	}

	p = strings.Trim(p, "/")
	dir, base := path.Split(p)
	owner := path.Base(strings.TrimSuffix(dir, "/"))
	if owner == "." || owner == "/" || owner == "" {
		return SanitizeFilename(base)
	}
	return SanitizeFilename(owner + "-" + base)
}

// ExportPath is the default location for a report on repoURL. ext includes
// the dot (".md", ".html").
func ExportPath(repoURL, ext string, now time.Time) string {
	downloadsDir := filepath.Join(config.GetHomeDir(), "Downloads")
	filename := fmt.Sprintf("agentdash-%s-%s%s", RepoName(repoURL), now.Format("20060102-150405"), ext)
	return filepath.Join(downloadsDir, filename)
}

// Write saves data to path, creating parent directories. Reports can contain
// vulnerability details, so the file is owner-only.
func Write(path string, data []byte) error {
	path = config.ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if config.DebugLog != nil {
		config.DebugLog.Printf("[Report] wrote %d bytes to %s", len(data), path)
	}
	return nil
}
