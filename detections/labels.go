package detections

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadLabels reads a class names file with one label per line. Blank lines
// and lines starting with '#' are skipped.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not read class names: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("could not read class names: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("class names file %s is empty", path)
	}
	return labels, nil
}
