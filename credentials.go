package accounts

import (
	"crypto/rand"
	"math/big"
	"strings"
	"unicode"
)

const (
	DefaultCredentialLength = 12
	MinCredentialLength     = 8
)

const (
	lowercaseChars = "abcdefghijklmnopqrstuvwxyz"
	uppercaseChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars     = "0123456789"
	symbolChars    = "!@#$%^&*()-_=+[]{}?"
	allChars       = lowercaseChars + uppercaseChars + digitChars + symbolChars
)

// Strength predicate names reported in CredentialStrength.Missing
const (
	RequirementLength    = "length"
	RequirementLowercase = "lowercase"
	RequirementUppercase = "uppercase"
	RequirementDigit     = "digit"
	RequirementSymbol    = "symbol"
)

// CredentialStrength is the score of a secret.
type CredentialStrength struct {
	Score   int      `json:"score"`
	Passed  bool     `json:"passed"`
	Missing []string `json:"missing,omitempty"`
}

// CredentialGenerator produces and scores temporary secrets.
type CredentialGenerator interface {
	Generate() (string, error)
	Strength(secret string) CredentialStrength
}

type credentialGenerator struct {
	length int
	rand   func(max int) (int, error)
}

// NewCredentialGenerator returns a generator for secrets of the given length.
// Lengths below MinCredentialLength are raised to it.
func NewCredentialGenerator(length int) CredentialGenerator {
	if length <= 0 {
		length = DefaultCredentialLength
	}
	if length < MinCredentialLength {
		length = MinCredentialLength
	}
	return &credentialGenerator{
		length: length,
		rand:   cryptoIntn,
	}
}

// Generate seeds one character of each class, fills the rest from the full
// charset and shuffles the result.
func (g *credentialGenerator) Generate() (string, error) {
	out := make([]byte, 0, g.length)

	for _, set := range []string{lowercaseChars, uppercaseChars, digitChars, symbolChars} {
		c, err := g.pick(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	for len(out) < g.length {
		c, err := g.pick(allChars)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates
	for i := len(out) - 1; i > 0; i-- {
		j, err := g.rand(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}

	return string(out), nil
}

func (g *credentialGenerator) Strength(secret string) CredentialStrength {
	return ScoreCredential(secret)
}

func (g *credentialGenerator) pick(set string) (byte, error) {
	i, err := g.rand(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func cryptoIntn(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

// ScoreCredential scores a secret from 0 to 100, 20 points per satisfied
// requirement. It passes only when every requirement holds.
func ScoreCredential(secret string) CredentialStrength {
	var lower, upper, digit, symbol bool
	for _, r := range secret {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(symbolChars, r), unicode.IsPunct(r), unicode.IsSymbol(r):
			symbol = true
		}
	}

	checks := []struct {
		name string
		ok   bool
	}{
		{RequirementLength, len([]rune(secret)) >= MinCredentialLength},
		{RequirementLowercase, lower},
		{RequirementUppercase, upper},
		{RequirementDigit, digit},
		{RequirementSymbol, symbol},
	}

	strength := CredentialStrength{}
	for _, c := range checks {
		if c.ok {
			strength.Score += 20
			continue
		}
		strength.Missing = append(strength.Missing, c.name)
	}
	strength.Passed = len(strength.Missing) == 0

	return strength
}
