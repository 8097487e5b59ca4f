package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WeightsFileName returns the Maia weight file name for level.
func WeightsFileName(level int) string {
	return fmt.Sprintf("maia-%d.pb.gz", level)
}

// ResolveWeights searches dirs in order for level's weight file and returns
// the absolute path of the first match. Relative directories are also
// tried next to the running executable.
func ResolveWeights(dirs []string, level int) (string, error) {
	name := WeightsFileName(level)

	candidates := make([]string, 0, len(dirs)*2)
	exeDir := ""
	if exe, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
	}
	for _, d := range dirs {
		if d == "" {
			continue
		}
		candidates = append(candidates, filepath.Join(d, name))
		if !filepath.IsAbs(d) && exeDir != "" {
			candidates = append(candidates, filepath.Join(exeDir, d, name))
		}
	}

	checked := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, p := range candidates {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		checked = append(checked, abs)
		info, err := os.Stat(abs)
		if err == nil && !info.IsDir() {
			return abs, nil
		}
	}

	return "", fmt.Errorf("weights file %s not found, checked: %s", name, strings.Join(checked, ", "))
}
