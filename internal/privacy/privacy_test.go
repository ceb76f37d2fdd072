package privacy

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"no whitespace", "abc", "abc"},
		{"double space", "a  b", "a b"},
		{"mixed run", "a \t\n\r b", "a b"},
		{"leading and trailing", "  a b \n", " a b "},
		{"unicode spaces", "a\u00a0\u2003b\u3000c", "a b c"},
		{"byte order mark", "a\uFEFF\uFEFFb", "a b"},
		{"only whitespace", "\n\n\t ", " "},
		{"non ascii text kept", "héllo   wörld", "héllo wörld"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"My  SSN\tis\n\n123-45-6789",
		"\u3000lead and trail\u3000",
		"x     y",
	}

	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestCheckSize(t *testing.T) {
	t.Run("exactly at limit", func(t *testing.T) {
		assert.NoError(t, CheckSize(strings.Repeat("a", MaxTextBytes)))
	})

	t.Run("one byte over", func(t *testing.T) {
		assert.ErrorIs(t, CheckSize(strings.Repeat("a", MaxTextBytes+1)), ErrTooLarge)
	})

	t.Run("multibyte at limit", func(t *testing.T) {
		text := strings.Repeat("é", MaxTextBytes/2)
		require.Equal(t, MaxTextBytes, len(text))
		assert.NoError(t, CheckSize(text))
	})

	t.Run("multibyte over limit", func(t *testing.T) {
		text := strings.Repeat("é", MaxTextBytes/2) + "a"
		assert.ErrorIs(t, CheckSize(text), ErrTooLarge)
	})

	t.Run("character count is not byte count", func(t *testing.T) {
		text := strings.Repeat("日", 2000)
		assert.Equal(t, 2000, CharCount(text))
		assert.ErrorIs(t, CheckSize(text), ErrTooLarge)
	})
}

func TestRedactNoEntities(t *testing.T) {
	text := Normalize("nothing  to\tsee here")

	outcome, err := Redact(text, nil)
	require.NoError(t, err)

	assert.Equal(t, text, outcome.RedactedText)
	assert.NotNil(t, outcome.Descriptions)
	assert.Empty(t, outcome.Descriptions)
	assert.Equal(t, CharCount(text), CharCount(outcome.RedactedText))
}

func TestRedactSSN(t *testing.T) {
	text := "My SSN is 123-45-6789"
	entities := []Entity{{Type: "SSN", Score: 0.99, BeginOffset: 10, EndOffset: 21}}

	outcome, err := Redact(text, entities)
	require.NoError(t, err)

	assert.Equal(t, "My SSN is ***********", outcome.RedactedText)
	assert.Equal(t, []string{"123-45-6789 is a SSN PII data type with a score of 0.99"}, outcome.Descriptions)
}

func TestRedactRepeatedSubstring(t *testing.T) {
	text := "call 555-1234 or 555-1234"

	t.Run("both occurrences", func(t *testing.T) {
		entities := []Entity{
			{Type: "PHONE", Score: 0.9, BeginOffset: 17, EndOffset: 25},
			{Type: "PHONE", Score: 0.8, BeginOffset: 5, EndOffset: 13},
		}

		outcome, err := Redact(text, entities)
		require.NoError(t, err)

		assert.Equal(t, "call ******** or ********", outcome.RedactedText)
		assert.Equal(t, []string{
			"555-1234 is a PHONE PII data type with a score of 0.8",
			"555-1234 is a PHONE PII data type with a score of 0.9",
		}, outcome.Descriptions)
	})

	t.Run("only the second occurrence", func(t *testing.T) {
		entities := []Entity{{Type: "PHONE", Score: 0.9, BeginOffset: 17, EndOffset: 25}}

		outcome, err := Redact(text, entities)
		require.NoError(t, err)

		assert.Equal(t, "call 555-1234 or ********", outcome.RedactedText)
	})
}

func TestRedactOverlappingAndAdjacent(t *testing.T) {
	text := "abcdefghijklmnop"
	entities := []Entity{
		{Type: "A", Score: 0.5, BeginOffset: 2, EndOffset: 6},
		{Type: "B", Score: 0.6, BeginOffset: 4, EndOffset: 8},
		{Type: "C", Score: 0.7, BeginOffset: 8, EndOffset: 10},
		{Type: "D", Score: 0.8, BeginOffset: 12, EndOffset: 14},
	}

	outcome, err := Redact(text, entities)
	require.NoError(t, err)

	assert.Equal(t, "ab********kl**op", outcome.RedactedText)
	assert.Equal(t, []string{
		"cdef is a A PII data type with a score of 0.5",
		"efgh is a B PII data type with a score of 0.6",
		"ij is a C PII data type with a score of 0.7",
		"mn is a D PII data type with a score of 0.8",
	}, outcome.Descriptions)
}

func TestRedactMultibyteOffsets(t *testing.T) {
	text := "naïve José lives at 42 Rue"
	// "José" starts at rune 6 even though it starts at byte 7
	entities := []Entity{{Type: "NAME", Score: 0.75, BeginOffset: 6, EndOffset: 10}}

	outcome, err := Redact(text, entities)
	require.NoError(t, err)

	assert.Equal(t, "naïve **** lives at 42 Rue", outcome.RedactedText)
	assert.Equal(t, []string{"José is a NAME PII data type with a score of 0.75"}, outcome.Descriptions)
	assert.Equal(t, CharCount(text), CharCount(outcome.RedactedText))
}

func TestRedactPreservesUnmaskedCharacters(t *testing.T) {
	text := "Email jane@example.com or call 555-0100, card 4111 1111 1111 1111."
	entities := []Entity{
		{Type: "EMAIL", Score: 0.99, BeginOffset: 6, EndOffset: 22},
		{Type: "PHONE", Score: 0.95, BeginOffset: 31, EndOffset: 39},
		{Type: "CREDIT_DEBIT_NUMBER", Score: 0.97, BeginOffset: 46, EndOffset: 65},
	}

	outcome, err := Redact(text, entities)
	require.NoError(t, err)

	original := []rune(text)
	redacted := []rune(outcome.RedactedText)
	require.Len(t, redacted, len(original))

	masked := make([]bool, len(original))
	for _, e := range entities {
		for i := e.BeginOffset; i < e.EndOffset; i++ {
			masked[i] = true
		}
	}

	for i := range original {
		if masked[i] {
			assert.Equal(t, MaskChar, redacted[i], "position %d", i)
		} else {
			assert.Equal(t, original[i], redacted[i], "position %d", i)
		}
	}
}

func TestRedactIsOrderIndependent(t *testing.T) {
	text := "a1 b22 c333 d4444 e55555 a1 b22"
	entities := []Entity{
		{Type: "X", Score: 0.1, BeginOffset: 0, EndOffset: 2},
		{Type: "Y", Score: 0.2, BeginOffset: 3, EndOffset: 6},
		{Type: "Z", Score: 0.3, BeginOffset: 3, EndOffset: 6},
		{Type: "X", Score: 0.4, BeginOffset: 7, EndOffset: 11},
		{Type: "W", Score: 0.5, BeginOffset: 9, EndOffset: 17},
		{Type: "X", Score: 0.6, BeginOffset: 25, EndOffset: 27},
	}

	want, err := Redact(text, entities)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		shuffled := make([]Entity, len(entities))
		copy(shuffled, entities)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, err := Redact(text, shuffled)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRedactInvalidOffsets(t *testing.T) {
	text := "short"
	tests := []struct {
		name   string
		entity Entity
	}{
		{"negative begin", Entity{Type: "X", BeginOffset: -1, EndOffset: 2}},
		{"empty span", Entity{Type: "X", BeginOffset: 2, EndOffset: 2}},
		{"reversed", Entity{Type: "X", BeginOffset: 3, EndOffset: 1}},
		{"past end", Entity{Type: "X", BeginOffset: 2, EndOffset: 6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Redact(text, []Entity{tt.entity})
			assert.ErrorIs(t, err, ErrInvalidOffsets)
		})
	}
}

func TestSortEntitiesDoesNotMutateInput(t *testing.T) {
	in := []Entity{
		{Type: "B", BeginOffset: 5, EndOffset: 9},
		{Type: "A", BeginOffset: 1, EndOffset: 3},
	}

	out := SortEntities(in)

	assert.Equal(t, "B", in[0].Type)
	assert.Equal(t, "A", out[0].Type)
	assert.Equal(t, "B", out[1].Type)
}
