package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDetectCharactersCountsMentions verifies names are counted across
// chapters and ordered by frequency.
func TestDetectCharactersCountsMentions(t *testing.T) {
	t.Parallel()

	chapters := []Chapter{
		{Index: 0, Text: "Elizabeth met Darcy. Elizabeth smiled. Jane watched Elizabeth."},
		{Index: 1, Text: "Darcy wrote to Elizabeth. Jane and Darcy argued. Jane left."},
	}
	characters := DetectCharacters(chapters, 2)
	require.Len(t, characters, 3)
	require.Equal(t, "Elizabeth", characters[0].Name)
	require.Equal(t, 4, characters[0].Mentions)
	require.Equal(t, 0, characters[0].FirstChapter)
}

// TestDetectCharactersThreshold verifies names below the mention threshold
// are dropped.
func TestDetectCharactersThreshold(t *testing.T) {
	t.Parallel()

	chapters := []Chapter{
		{Index: 0, Text: "Ahab hunted. Ahab raged. Ahab slept. Ishmael watched."},
	}
	characters := DetectCharacters(chapters, 3)
	require.Len(t, characters, 1)
	require.Equal(t, "Ahab", characters[0].Name)
}

// TestDetectCharactersStopwords verifies sentence-initial function words are
// never treated as characters.
func TestDetectCharactersStopwords(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("The storm came. Then Holmes spoke. However nobody listened. ", 3)
	characters := DetectCharacters([]Chapter{{Index: 0, Text: text}}, 2)
	require.Len(t, characters, 1)
	require.Equal(t, "Holmes", characters[0].Name)
}

// TestDetectCharactersDeterministicTieBreak verifies equal mention counts
// order alphabetically.
func TestDetectCharactersDeterministicTieBreak(t *testing.T) {
	t.Parallel()

	chapters := []Chapter{
		{Index: 0, Text: "Zelda ran. Alice ran. Zelda sat. Alice sat."},
	}
	characters := DetectCharacters(chapters, 2)
	require.Len(t, characters, 2)
	require.Equal(t, "Alice", characters[0].Name)
	require.Equal(t, "Zelda", characters[1].Name)
}

// TestDetectCharactersDefaultThreshold verifies minMentions <= 0 selects the
// default.
func TestDetectCharactersDefaultThreshold(t *testing.T) {
	t.Parallel()

	chapters := []Chapter{
		{Index: 0, Text: "Watson spoke. Watson waited."},
	}
	require.Empty(t, DetectCharacters(chapters, 0), "two mentions are below the default threshold")
}
