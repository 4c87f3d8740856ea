package fulfill

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode"
)

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"

// Credential is the plaintext account payload handed to a buyer. It only
// ever exists in memory and inside the encrypted blob.
type Credential struct {
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	LoginURL  string    `json:"loginUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Generator produces account credentials for a purchased product.
type Generator struct {
	// Domain is appended to generated usernames, e.g. premium.shoptk.vn.
	Domain      string
	PasswordLen int
}

// Generate builds a fresh credential for the named product. months controls
// the expiry horizon; zero or negative is treated as one month.
func (g Generator) Generate(productName string, months int) (Credential, error) {
	if months <= 0 {
		months = 1
	}
	suffix, err := randomDigits(4)
	if err != nil {
		return Credential{}, fmt.Errorf("generate username suffix: %w", err)
	}
	pwLen := g.PasswordLen
	if pwLen <= 0 {
		pwLen = 16
	}
	password, err := randomPassword(pwLen)
	if err != nil {
		return Credential{}, fmt.Errorf("generate password: %w", err)
	}

	s := slug(productName)
	return Credential{
		Username:  fmt.Sprintf("%s_%s@%s", s, suffix, g.Domain),
		Password:  password,
		LoginURL:  fmt.Sprintf("https://%s/login/%s", g.Domain, s),
		ExpiresAt: time.Now().AddDate(0, months, 0),
	}, nil
}

func slug(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) && r < 128, unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		out = "account"
	}
	return out
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%d", v.Int64())
	}
	return b.String(), nil
}

func randomPassword(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[v.Int64()]
	}
	return string(out), nil
}
