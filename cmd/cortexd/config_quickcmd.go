package main

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

var (
	tableHeaderRe  = regexp.MustCompile(`^\s*\[([^\]]+)\]\s*$`)
	tierAssignRe   = regexp.MustCompile(`^(\s*)(fast|balanced|premium)(\s*=\s*)\[(.*)\](\s*)$`)
	quotedStringRe = regexp.MustCompile(`"([^"]+)"`)
)

// disableProviderKindInConfigFile removes every [providers.*] table whose
// kind matches the given provider kind (e.g. "anthropic") and strips any
// matching provider names out of [tiers] fast/balanced/premium, leaving
// everything else untouched (§9 operator ergonomics).
func disableProviderKindInConfigFile(path, kind string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read config %s: %w", path, err)
	}

	updated, changed := disableProviderKindInConfigContent(string(raw), kind)
	if !changed {
		return false, nil
	}

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return false, fmt.Errorf("write config %s: %w", path, err)
	}
	return true, nil
}

// setPeriodicIntervalInConfigFile sets one of the [periodic] interval
// keys (§4.6) in place, validating the new value parses as a duration.
func setPeriodicIntervalInConfigFile(path, key, interval string) (bool, error) {
	interval = strings.TrimSpace(interval)
	if interval == "" {
		return false, fmt.Errorf("interval value is required")
	}
	if _, err := time.ParseDuration(interval); err != nil {
		return false, fmt.Errorf("invalid interval %q: %w", interval, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read config %s: %w", path, err)
	}

	updated, changed, err := setPeriodicIntervalInConfigContent(string(raw), key, interval)
	if err != nil {
		return false, fmt.Errorf("update %s in %s: %w", key, path, err)
	}
	if !changed {
		return false, nil
	}

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return false, fmt.Errorf("write config %s: %w", path, err)
	}
	return true, nil
}

func setPeriodicIntervalInConfigContent(input, key, interval string) (output string, changed bool, err error) {
	if strings.TrimSpace(input) == "" {
		return input, false, fmt.Errorf("config content is empty")
	}
	assignRe := regexp.MustCompile(`^(\s*` + regexp.QuoteMeta(key) + `\s*=\s*")([^"]*)(".*)$`)

	lines := strings.Split(input, "\n")
	currentTable := ""
	found := false

	for i, line := range lines {
		if header, ok := parseTableHeader(line); ok {
			currentTable = strings.ToLower(strings.TrimSpace(header))
		}
		if currentTable != "periodic" {
			continue
		}
		m := assignRe.FindStringSubmatch(line)
		if len(m) != 4 {
			continue
		}
		found = true
		updated := m[1] + interval + m[3]
		if updated != line {
			lines[i] = updated
			changed = true
		}
	}

	if !found {
		return input, false, fmt.Errorf("[periodic] %s not found", key)
	}

	output = strings.Join(lines, "\n")
	if strings.HasSuffix(input, "\n") && !strings.HasSuffix(output, "\n") {
		output += "\n"
	}
	return output, changed, nil
}

func disableProviderKindInConfigContent(input, kind string) (string, bool) {
	if strings.TrimSpace(input) == "" {
		return input, false
	}
	kind = strings.ToLower(strings.TrimSpace(kind))

	lines := strings.Split(input, "\n")
	skip := make([]bool, len(lines))
	changed := false

	type tableBlock struct {
		header     string
		start, end int // end exclusive
	}

	var blocks []tableBlock
	for i := 0; i < len(lines); i++ {
		header, ok := parseTableHeader(lines[i])
		if !ok {
			continue
		}
		end := len(lines)
		for j := i + 1; j < len(lines); j++ {
			if _, nextIsHeader := parseTableHeader(lines[j]); nextIsHeader {
				end = j
				break
			}
		}
		blocks = append(blocks, tableBlock{header: header, start: i, end: end})
	}

	var droppedNames []string
	for _, block := range blocks {
		lowerHeader := strings.ToLower(strings.TrimSpace(block.header))
		if !strings.HasPrefix(lowerHeader, "providers.") {
			continue
		}
		if !blockHasKind(lines[block.start:block.end], kind) {
			continue
		}
		for i := block.start; i < block.end; i++ {
			skip[i] = true
		}
		changed = true
		droppedNames = append(droppedNames, strings.TrimPrefix(lowerHeader, "providers."))
	}

	currentTable := ""
	outLines := make([]string, 0, len(lines))
	for i, line := range lines {
		if skip[i] {
			continue
		}
		if header, ok := parseTableHeader(line); ok {
			currentTable = strings.ToLower(strings.TrimSpace(header))
		}
		updated := line
		if currentTable == "tiers" && len(droppedNames) > 0 {
			trimmed := trimProviderNamesFromTierLine(updated, droppedNames)
			if trimmed != updated {
				updated = trimmed
				changed = true
			}
		}
		outLines = append(outLines, updated)
	}

	outLines = collapseBlankRuns(outLines, 2)
	output := strings.Join(outLines, "\n")
	if strings.HasSuffix(input, "\n") && !strings.HasSuffix(output, "\n") {
		output += "\n"
	}
	return output, changed
}

func blockHasKind(blockLines []string, kind string) bool {
	kindRe := regexp.MustCompile(`^(\s*kind\s*=\s*")([^"]*)(".*)$`)
	for _, line := range blockLines {
		m := kindRe.FindStringSubmatch(line)
		if len(m) != 4 {
			continue
		}
		if strings.ToLower(strings.TrimSpace(m[2])) == kind {
			return true
		}
	}
	return false
}

func parseTableHeader(line string) (string, bool) {
	m := tableHeaderRe.FindStringSubmatch(line)
	if len(m) != 2 {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

func trimProviderNamesFromTierLine(line string, droppedNames []string) string {
	m := tierAssignRe.FindStringSubmatch(line)
	if len(m) != 6 {
		return line
	}

	dropped := make(map[string]bool, len(droppedNames))
	for _, n := range droppedNames {
		dropped[n] = true
	}

	values := quotedStringRe.FindAllStringSubmatch(m[4], -1)
	if len(values) == 0 {
		return line
	}

	filtered := make([]string, 0, len(values))
	for _, value := range values {
		if len(value) < 2 {
			continue
		}
		name := strings.TrimSpace(value[1])
		if dropped[name] {
			continue
		}
		filtered = append(filtered, `"`+name+`"`)
	}

	return m[1] + m[2] + m[3] + "[" + strings.Join(filtered, ", ") + "]" + m[5]
}

func collapseBlankRuns(lines []string, maxRun int) []string {
	if maxRun < 1 {
		maxRun = 1
	}
	out := make([]string, 0, len(lines))
	blankRun := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blankRun++
			if blankRun > maxRun {
				continue
			}
		} else {
			blankRun = 0
		}
		out = append(out, line)
	}
	return out
}
