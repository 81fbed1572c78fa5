package remote

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KeyFileCandidates returns the ordered locations to look for the private
// key matching an EC2 key pair name: working directory first, then the
// user's ~/.ssh, then the home directory itself.
func KeyFileCandidates(keyName string) []string {
	file := keyName + ".pem"
	candidates := []string{file}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".ssh", file),
			filepath.Join(home, file),
		)
	}
	return candidates
}

// ResolveKeyFile returns the first existing regular file from candidates.
// Entries starting with "~/" are expanded against the user's home directory.
func ResolveKeyFile(candidates []string) (string, error) {
	checked := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		path := expandHome(candidate)
		checked = append(checked, path)
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", fmt.Errorf("no key file found, tried: %s", strings.Join(checked, ", "))
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
