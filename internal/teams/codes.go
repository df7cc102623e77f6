package teams

import (
	"crypto/rand"
	"math/big"

	"mandalaquest/internal/progression"
)

// Alphabet excludes ambiguous characters: 0, O, 1, I, L
const alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 4

// GenerateCode returns a join code: the team's initial followed by
// codeLength random characters, e.g. "N7KQX".
func GenerateCode(team progression.Team) (string, error) {
	code := make([]byte, codeLength+1)
	code[0] = 'X'
	if team != "" {
		code[0] = team[0]
	}
	for i := 1; i < len(code); i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		code[i] = alphabet[n.Int64()]
	}
	return string(code), nil
}
