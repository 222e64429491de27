package relay

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Room code styles
const (
	CodeStyleAlnum   = "alnum"
	CodeStyleAlpha   = "alpha"
	CodeStyleNumeric = "numeric"
)

const codeLength = 4

const (
	alnumChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	alphaChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numericChars = "0123456789"
)

// CodeGenerator produces fixed-length room codes from an alphabet.
type CodeGenerator struct {
	alphabet string
	length   int

	// intn returns a uniform index in [0, n). Tests replace it.
	intn func(n int) (int, error)
}

// NewCodeGenerator returns a generator for the named style.
func NewCodeGenerator(style string) (CodeGenerator, error) {
	var alphabet string
	switch strings.ToLower(style) {
	case "", CodeStyleAlnum:
		alphabet = alnumChars
	case CodeStyleAlpha:
		alphabet = alphaChars
	case CodeStyleNumeric:
		alphabet = numericChars
	default:
		return CodeGenerator{}, fmt.Errorf("unknown room code style %q", style)
	}
	return CodeGenerator{alphabet: alphabet, length: codeLength, intn: randomIndex}, nil
}

// Next returns a random code. It does not check for collisions.
func (g CodeGenerator) Next() (string, error) {
	var b strings.Builder
	b.Grow(g.length)
	for i := 0; i < g.length; i++ {
		idx, err := g.intn(len(g.alphabet))
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		b.WriteByte(g.alphabet[idx])
	}
	return b.String(), nil
}

// Space is the number of distinct codes the generator can produce.
func (g CodeGenerator) Space() int {
	n := 1
	for i := 0; i < g.length; i++ {
		n *= len(g.alphabet)
	}
	return n
}

// nth returns the code at position i of the lexicographic enumeration.
func (g CodeGenerator) nth(i int) string {
	buf := make([]byte, g.length)
	base := len(g.alphabet)
	for pos := g.length - 1; pos >= 0; pos-- {
		buf[pos] = g.alphabet[i%base]
		i /= base
	}
	return string(buf)
}

// NormalizeCode makes user-typed codes comparable with generated ones.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
