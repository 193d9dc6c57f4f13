package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/project-chip/certification-tool-cli/internal/api"
)

var testIDPattern = regexp.MustCompile(`^TC[-_][A-Z_]{2,20}([-_.]\d+){2,3}(-custom)?$`)

// parseTestIDs splits and validates a comma-separated test id list.
func parseTestIDs(list string) ([]string, error) {
	var ids []string
	for _, id := range strings.Split(list, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, id)
		}
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("test id list is empty")
	}

	var invalid []string
	for _, id := range ids {
		if !testIDPattern.MatchString(id) {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) != 0 {
		return nil, fmt.Errorf("invalid test id format: %s (expected TC-XXX-1.1 or TC_XXX_1_1)",
			strings.Join(invalid, ", "))
	}

	return ids, nil
}

// ids are compared with '-', '.' and case differences folded away, since
// the catalog mixes both spellings.
func normalizeTestID(id string) string {
	id = strings.ReplaceAll(id, "-", "_")
	id = strings.ReplaceAll(id, ".", "_")
	return strings.ToUpper(id)
}

// buildTestSelection matches the requested ids against the catalog and
// returns a selection with one iteration per matched case. Collections
// and suites without matches are pruned.
func buildTestSelection(collections *api.TestCollections, ids []string) (api.TestSelection, error) {
	requested := make(map[string]bool, len(ids))
	for _, id := range ids {
		requested[normalizeTestID(id)] = false
	}

	selection := make(api.TestSelection)

	for collectionName, collection := range collections.TestCollections {
		suites := make(map[string]map[string]int)

		for suiteName, suite := range collection.TestSuites {
			cases := make(map[string]int)

			for caseID := range suite.TestCases {
				normalized := normalizeTestID(caseID)
				if _, ok := requested[normalized]; ok {
					requested[normalized] = true
					cases[caseID] = 1
				}
			}

			if len(cases) != 0 {
				suites[suiteName] = cases
			}
		}

		if len(suites) != 0 {
			selection[collectionName] = suites
		}
	}

	var missing []string
	for _, id := range ids {
		if !requested[normalizeTestID(id)] {
			missing = append(missing, id)
		}
	}
	if len(missing) != 0 {
		return nil, fmt.Errorf("tests not found in the server catalog: %s", strings.Join(missing, ", "))
	}

	return selection, nil
}
