package fulfill

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorGenerate(t *testing.T) {
	gen := Generator{Domain: "premium.shoptk.vn", PasswordLen: 20}

	cred, err := gen.Generate("Netflix Premium 4K", 6)
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^netflix_premium_4k_\d{4}@premium\.shoptk\.vn$`), cred.Username)
	assert.Len(t, cred.Password, 20)
	assert.Equal(t, "https://premium.shoptk.vn/login/netflix_premium_4k", cred.LoginURL)

	expected := time.Now().AddDate(0, 6, 0)
	assert.WithinDuration(t, expected, cred.ExpiresAt, time.Minute)
}

func TestGeneratorDefaultsMonthsAndLength(t *testing.T) {
	gen := Generator{Domain: "premium.shoptk.vn"}

	cred, err := gen.Generate("Spotify", 0)
	require.NoError(t, err)
	assert.Len(t, cred.Password, 16)
	assert.WithinDuration(t, time.Now().AddDate(0, 1, 0), cred.ExpiresAt, time.Minute)
}

func TestGeneratorSlugFallback(t *testing.T) {
	gen := Generator{Domain: "premium.shoptk.vn"}

	cred, err := gen.Generate("礼品卡", 1)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^account_\d{4}@premium\.shoptk\.vn$`), cred.Username)
}

func TestGeneratorPasswordsDiffer(t *testing.T) {
	gen := Generator{Domain: "premium.shoptk.vn"}

	a, err := gen.Generate("Netflix", 1)
	require.NoError(t, err)
	b, err := gen.Generate("Netflix", 1)
	require.NoError(t, err)
	assert.NotEqual(t, a.Password, b.Password)
}
