package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/project-chip/certification-tool-cli/internal/api"
)

func TestParseTestIDs(t *testing.T) {
	ids, err := parseTestIDs(" TC-ACE-1.1, TC_ACE_1_3 ,TC-IDM-10.2-custom")
	require.NoError(t, err)
	require.Equal(t, []string{"TC-ACE-1.1", "TC_ACE_1_3", "TC-IDM-10.2-custom"}, ids)
}

func TestParseTestIDsInvalid(t *testing.T) {
	for _, list := range []string{
		"",
		" , ,",
		"ACE-1.1",
		"TC-ACE",
		"TC-ace-1.1",
		"TC-ACE-1.1,bogus",
	} {
		_, err := parseTestIDs(list)
		require.Error(t, err, "list: %q", list)
	}
}

func testCatalog() *api.TestCollections {
	return &api.TestCollections{
		TestCollections: map[string]api.TestCollection{
			"SDK YAML Tests": {
				Name: "SDK YAML Tests",
				TestSuites: map[string]api.TestSuite{
					"FirstChipToolSuite": {
						TestCases: map[string]api.TestCase{
							"TC-ACE-1.1": {},
							"TC-ACE-2.1": {},
						},
					},
					"EmptySuite": {
						TestCases: map[string]api.TestCase{
							"TC-DGGEN-1.1": {},
						},
					},
				},
			},
			"SDK Python Tests": {
				Name: "SDK Python Tests",
				TestSuites: map[string]api.TestSuite{
					"Python Testing Suite": {
						TestCases: map[string]api.TestCase{
							"TC_ACE_1_3": {},
						},
					},
				},
			},
		},
	}
}

func TestBuildTestSelection(t *testing.T) {
	// mixed spellings select the same cases.
	selection, err := buildTestSelection(testCatalog(), []string{"TC_ACE_1_1", "TC-ACE-1.3"})
	require.NoError(t, err)

	require.Equal(t, api.TestSelection{
		"SDK YAML Tests": {
			"FirstChipToolSuite": {
				"TC-ACE-1.1": 1,
			},
		},
		"SDK Python Tests": {
			"Python Testing Suite": {
				"TC_ACE_1_3": 1,
			},
		},
	}, selection)
}

func TestBuildTestSelectionPrunesEmpty(t *testing.T) {
	selection, err := buildTestSelection(testCatalog(), []string{"TC-ACE-2.1"})
	require.NoError(t, err)

	require.NotContains(t, selection, "SDK Python Tests")
	require.NotContains(t, selection["SDK YAML Tests"], "EmptySuite")
}

func TestBuildTestSelectionMissing(t *testing.T) {
	_, err := buildTestSelection(testCatalog(), []string{"TC-ACE-1.1", "TC-XYZ-9.9"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "TC-XYZ-9.9")
	require.NotContains(t, err.Error(), "TC-ACE-1.1")
}
