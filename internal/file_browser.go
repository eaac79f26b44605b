package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FileItem is one row of the attachment browser.
type FileItem struct {
	Name  string
	Path  string
	IsDir bool
	Size  int64
}

// fileBrowser is the state of the attach-a-file picker.
type fileBrowser struct {
	dir      string
	items    []FileItem
	selected int
	err      error
}

func (b *fileBrowser) open(dir string) {
	items, err := browseDirectory(dir)
	if err != nil {
		b.err = err
		return
	}
	b.dir = dir
	b.items = items
	b.selected = 0
	b.err = nil
}

func (b *fileBrowser) move(delta int) {
	if len(b.items) == 0 {
		return
	}
	b.selected = (b.selected + delta + len(b.items)) % len(b.items)
}

func (b *fileBrowser) current() (FileItem, bool) {
	if b.selected < 0 || b.selected >= len(b.items) {
		return FileItem{}, false
	}
	return b.items[b.selected], true
}

// browseDirectory reads directory contents for the file browser
func browseDirectory(path string) ([]FileItem, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	items := make([]FileItem, 0, len(entries)+1)

	// parent entry unless at the root
	if parent := filepath.Dir(path); parent != path {
		items = append(items, FileItem{
			Name:  "..",
			Path:  parent,
			IsDir: true,
		})
	}

	for _, entry := range entries {
		// skip hidden files
		if len(entry.Name()) > 0 && entry.Name()[0] == '.' {
			continue
		}

		item := FileItem{
			Name:  entry.Name(),
			Path:  filepath.Join(path, entry.Name()),
			IsDir: entry.IsDir(),
		}
		if !entry.IsDir() {
			if info, err := entry.Info(); err == nil {
				item.Size = info.Size()
			}
		}
		items = append(items, item)
	}

	// directories first, then files, both alphabetically; ".." stays on top
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Name == ".." || items[j].Name == ".." {
			return items[i].Name == ".."
		}
		if items[i].IsDir != items[j].IsDir {
			return items[i].IsDir
		}
		return items[i].Name < items[j].Name
	})

	return items, nil
}

// getDefaultBrowsePath returns a sensible starting directory for file browser
func getDefaultBrowsePath() string {
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
