package tle

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/fetch"
)

// UnknownName labels bare two-line records that carry no name line.
const UnknownName = "Unknown"

// Parse reads TLE text with either 3-line (name + 2 lines) or bare 2-line
// records, in any mix. Records that fail validation are skipped and counted.
func Parse(data []byte, logger fetch.Logger) ([]Element, error) {
	logger = fetch.OrNop(logger)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var elements []Element
	skipped := 0
	for i := 0; i < len(lines); {
		var name, l1, l2 string
		switch {
		case strings.HasPrefix(lines[i], "1 ") && i+1 < len(lines):
			name, l1, l2 = UnknownName, lines[i], lines[i+1]
			i += 2
		case i+2 < len(lines) && strings.HasPrefix(lines[i+1], "1 "):
			name, l1, l2 = strings.TrimSpace(lines[i]), lines[i+1], lines[i+2]
			i += 3
		default:
			i++
			continue
		}

		e, err := NewElement(name, l1, l2)
		if err != nil {
			logger.Debugf("Skipping TLE: %v", err)
			skipped++
			continue
		}
		elements = append(elements, e)
	}

	if skipped > 0 {
		logger.Warnf("Skipped %d malformed TLE records", skipped)
	}
	return elements, nil
}
