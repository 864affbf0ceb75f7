package repack

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// SafeFileName reduces name to letters, digits, '.', '-' and '_', replacing
// anything else with '_'
func SafeFileName(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if safe == "" || strings.Trim(safe, ".") == "" {
		return "_" + safe
	}
	return safe
}

// safeComponent keeps a path component readable but drops characters that
// are not valid in file names on common filesystems
func safeComponent(name string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(`<>:"|?*`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
}

// splitEntryName breaks a package entry name, separated by either slash
// style, into cleaned directory components and a base name. Empty, "." and
// ".." components are dropped.
func splitEntryName(name string) ([]string, string) {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '\\' || r == '/'
	})
	var comps []string
	for _, p := range parts {
		p = safeComponent(p)
		if p == "" || p == "." || p == ".." {
			continue
		}
		comps = append(comps, p)
	}
	if len(comps) == 0 {
		return nil, ""
	}
	return comps[:len(comps)-1], comps[len(comps)-1]
}

// entryDest resolves where an entry is written beneath root
func entryDest(root, name string) (string, error) {
	dir, base := splitEntryName(name)
	if base == "" {
		return "", errors.Errorf("entry %q has no file name", name)
	}
	dest := filepath.Join(append(append([]string{root}, dir...), base)...)
	rel, err := filepath.Rel(root, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("entry %q escapes the output directory", name)
	}
	return dest, nil
}
