package fakedeck

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testAccount = Account{Email: "qa@promptdeck.test", Password: "s3cret-pass"}

func TestSessionToken_RoundTrip(t *testing.T) {
	d := New(testAccount)
	d.mu.Lock()
	defer d.mu.Unlock()

	token, err := d.signSession()
	require.NoError(t, err)
	claims, err := d.verifySession(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, testAccount.Email, claims.Email)

	_, err = d.verifySession(token + "x")
	assert.ErrorIs(t, err, errInvalidSession)
}

func TestSessionToken_Expires(t *testing.T) {
	d := New(testAccount)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d.SetClock(func() time.Time { return now })

	d.mu.Lock()
	token, err := d.signSession()
	d.mu.Unlock()
	require.NoError(t, err)

	d.SetClock(func() time.Time { return now.Add(2 * time.Hour) })
	d.mu.Lock()
	_, err = d.verifySession(token)
	d.mu.Unlock()
	assert.ErrorIs(t, err, errInvalidSession)
}

func TestAssign_IsStickyAndWeighted(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := New(testAccount)
		weights := rapid.SliceOfN(rapid.IntRange(1, 10), 2, 4).Draw(t, "weights")
		e := &experiment{ID: "exp_1", Status: "running", Assignments: map[string]string{}}
		names := map[string]bool{}
		for i, w := range weights {
			name := string(rune('a' + i))
			e.Variants = append(e.Variants, variant{Name: name, Weight: w})
			names[name] = true
		}
		subject := rapid.StringMatching(`[a-z0-9-]{1,16}`).Draw(t, "subject")

		first := d.assign(e, subject)
		if !names[first] {
			t.Fatalf("assigned unknown variant %q", first)
		}
		if again := d.assign(e, subject); again != first {
			t.Fatalf("assignment changed from %q to %q", first, again)
		}
	})
}

func TestUI_LoginFlowAndRedirect(t *testing.T) {
	d := New(testAccount)
	f := d.Browser("http://deck.test")
	ctx := context.Background()

	require.NoError(t, f.Goto(ctx, "/prompts"))
	assert.Equal(t, "http://deck.test/login?next=%2Fprompts", f.URL())

	require.NoError(t, f.Fill(ctx, selEmail, testAccount.Email))
	require.NoError(t, f.Fill(ctx, selPassword, "wrong"))
	require.NoError(t, f.Click(ctx, selSubmit))
	assert.Contains(t, f.URL(), "/login?error=1")
	text, err := f.Text(ctx, selFlash)
	require.NoError(t, err)
	assert.Equal(t, "Invalid email or password", text)

	require.NoError(t, f.Fill(ctx, selPassword, testAccount.Password))
	require.NoError(t, f.Press(ctx, selPassword, "Enter"))
	assert.Equal(t, "http://deck.test/prompts", f.URL())
	assert.True(t, d.LoggedInUI())

	require.NoError(t, f.ResetState(ctx))
	assert.False(t, d.LoggedInUI())
}

func TestUI_ObscuredButtonNeedsDOMClick(t *testing.T) {
	d := New(testAccount)
	d.Obscure(selSubmit)
	f := d.Browser("http://deck.test")
	ctx := context.Background()

	require.NoError(t, f.Goto(ctx, "/login"))
	require.NoError(t, f.Fill(ctx, selEmail, testAccount.Email))
	require.NoError(t, f.Fill(ctx, selPassword, testAccount.Password))
	require.Error(t, f.Click(ctx, selSubmit))

	ok, err := f.Eval(ctx, "(selectors) => { el.click() }", []string{selSubmit})
	require.NoError(t, err)
	assert.Equal(t, true, ok)
	assert.True(t, d.LoggedInUI())
}
