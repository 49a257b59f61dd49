package accounts_test

import (
	"strings"
	"testing"

	accounts "github.com/goliatone/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialGenerator_Samples(t *testing.T) {
	gen := accounts.NewCredentialGenerator(accounts.DefaultCredentialLength)

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		secret, err := gen.Generate()
		require.NoError(t, err)
		require.Len(t, secret, accounts.DefaultCredentialLength)

		strength := gen.Strength(secret)
		require.True(t, strength.Passed, "sample %q missing %v", secret, strength.Missing)
		require.Equal(t, 100, strength.Score)

		seen[secret] = struct{}{}
	}

	// 12 chars over an 81 symbol alphabet, collisions would mean a broken source
	assert.Len(t, seen, 10000)
}

func TestCredentialGenerator_Length(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"default on zero", 0, accounts.DefaultCredentialLength},
		{"default on negative", -3, accounts.DefaultCredentialLength},
		{"raised to minimum", 4, accounts.MinCredentialLength},
		{"custom", 24, 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secret, err := accounts.NewCredentialGenerator(tt.length).Generate()
			require.NoError(t, err)
			assert.Len(t, secret, tt.want)
		})
	}
}

func TestScoreCredential(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		score   int
		passed  bool
		missing []string
	}{
		{
			name:   "strong",
			secret: "Abcdef1!",
			score:  100,
			passed: true,
		},
		{
			name:    "no symbol",
			secret:  "Abcdefg1",
			score:   80,
			missing: []string{accounts.RequirementSymbol},
		},
		{
			name:    "too short",
			secret:  "Ab1!",
			score:   80,
			missing: []string{accounts.RequirementLength},
		},
		{
			name:    "lowercase only",
			secret:  "abcdefghij",
			score:   40,
			missing: []string{accounts.RequirementUppercase, accounts.RequirementDigit, accounts.RequirementSymbol},
		},
		{
			name:   "empty",
			secret: "",
			score:  0,
			missing: []string{
				accounts.RequirementLength,
				accounts.RequirementLowercase,
				accounts.RequirementUppercase,
				accounts.RequirementDigit,
				accounts.RequirementSymbol,
			},
		},
		{
			name:   "unicode symbol counts",
			secret: "Abcdefg1€",
			score:  100,
			passed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := accounts.ScoreCredential(tt.secret)
			assert.Equal(t, tt.score, got.Score)
			assert.Equal(t, tt.passed, got.Passed)
			assert.Equal(t, tt.missing, got.Missing)
		})
	}
}

func TestTemporaryCredential_String(t *testing.T) {
	assert.Equal(t, "", accounts.TemporaryCredential{}.String())

	cred := accounts.TemporaryCredential{Secret: "Abcdef1!xyz", SingleUse: true}
	assert.Equal(t, "[REDACTED]", cred.String())
	assert.False(t, strings.Contains(cred.String(), cred.Secret))
}
