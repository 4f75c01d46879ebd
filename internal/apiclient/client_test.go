package apiclient

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/promptdeck-e2e/internal/errs"
	"github.com/kuitang/promptdeck-e2e/internal/fakedeck"
	"github.com/kuitang/promptdeck-e2e/internal/obs"
	"github.com/kuitang/promptdeck-e2e/internal/ratelimit"
)

var account = fakedeck.Account{ID: "user-42", Email: "qa@promptdeck.test", Password: "s3cret-pass"}

func newTestClient(t *testing.T) (*fakedeck.Deck, *Client) {
	t.Helper()
	deck, srv := fakedeck.Start(t, account)
	pacer := ratelimit.NewPacer(ratelimit.DefaultConfig)
	t.Cleanup(pacer.Stop)
	return deck, New(srv.URL, Options{Timeout: 5 * time.Second, Pacer: pacer})
}

func login(t *testing.T, c *Client) *Client {
	t.Helper()
	sess, err := c.Login(context.Background(), account.Email, account.Password)
	require.NoError(t, err)
	return c.WithToken(sess.AccessToken)
}

func TestLogin_IssuesInspectableToken(t *testing.T) {
	_, c := newTestClient(t)
	ctx := context.Background()

	sess, err := c.Login(ctx, account.Email, account.Password)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", sess.TokenType)
	assert.Equal(t, account.Email, sess.User.Email)

	info, err := InspectToken(sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-42", info.Subject)
	assert.Equal(t, account.Email, info.Email)
	assert.False(t, info.Expired(time.Now()))
	assert.True(t, info.Expired(info.ExpiresAt))

	me, err := c.WithToken(sess.AccessToken).Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, account.Email, me.Email)
}

func TestLogin_RejectsBadCredentials(t *testing.T) {
	_, c := newTestClient(t)

	_, err := c.Login(context.Background(), account.Email, "nope")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.PermissionDenied))
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
	assert.Contains(t, err.Error(), "Invalid email or password")

	_, err = c.Login(context.Background(), "", "")
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestUnauthenticatedCallIsRejected(t *testing.T) {
	_, c := newTestClient(t)
	assert.False(t, c.Authenticated())

	_, err := c.Me(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
}

func TestPromptLifecycle(t *testing.T) {
	_, c := newTestClient(t)
	authed := login(t, c)
	ctx := context.Background()

	p, err := authed.CreatePrompt(ctx, PromptInput{Title: "Summarizer", Body: "Summarize {{text}}"})
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)

	p, err = authed.UpdatePrompt(ctx, p.ID, PromptInput{Title: "Summarizer v2"})
	require.NoError(t, err)
	assert.Equal(t, "Summarizer v2", p.Title)
	assert.Equal(t, "Summarize {{text}}", p.Body)

	p, err = authed.TagPrompt(ctx, p.ID, "Writing")
	require.NoError(t, err)
	assert.Equal(t, []string{"writing"}, p.Tags)

	tagged, err := authed.ListPrompts(ctx, "writing")
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, p.ID, tagged[0].ID)

	tags, err := authed.ListTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Tag{{Name: "writing", Count: 1}}, tags)

	require.NoError(t, authed.DeletePrompt(ctx, p.ID))
	_, err = authed.GetPrompt(ctx, p.ID)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestAPIKeyLifecycle(t *testing.T) {
	_, c := newTestClient(t)
	authed := login(t, c)
	ctx := context.Background()

	key, err := authed.CreateAPIKey(ctx, "ci")
	require.NoError(t, err)
	require.NotEmpty(t, key.Key)

	byKey := c.WithAPIKey(key.Key)
	me, err := byKey.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, account.Email, me.Email)

	keys, err := authed.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Empty(t, keys[0].Key, "secret is only returned at creation")

	require.NoError(t, authed.RevokeAPIKey(ctx, key.ID))
	_, err = byKey.Me(ctx)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))
	assert.True(t, errs.Is(err, errs.PermissionDenied))
}

func TestAnalyticsAndExperiments(t *testing.T) {
	_, c := newTestClient(t)
	authed := login(t, c)
	ctx := context.Background()

	require.NoError(t, authed.TrackEvent(ctx, Event{Type: "prompt_view"}))
	sum, err := authed.AnalyticsSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TotalEvents)
	assert.Equal(t, 1, sum.ByType["prompt_view"])

	p, err := authed.CreatePrompt(ctx, PromptInput{Title: "t", Body: "b"})
	require.NoError(t, err)
	exp, err := authed.CreateExperiment(ctx, ExperimentInput{
		Name:     "tone",
		PromptID: p.ID,
		Variants: []Variant{{Name: "control", Body: "b", Weight: 50}, {Name: "friendly", Body: "b!", Weight: 50}},
	})
	require.NoError(t, err)
	assert.Equal(t, "draft", exp.Status)

	_, err = authed.AssignVariant(ctx, exp.ID, "subject-1")
	assert.True(t, errs.Is(err, errs.FailedPrecondition), "draft experiments do not assign")

	exp, err = authed.StartExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, "running", exp.Status)

	a, err := authed.AssignVariant(ctx, exp.ID, "subject-1")
	require.NoError(t, err)
	b, err := authed.AssignVariant(ctx, exp.ID, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, a.Variant, b.Variant)

	res, err := authed.ExperimentResults(ctx, exp.ID)
	require.NoError(t, err)
	require.Len(t, res.Variants, 2)
	assert.Equal(t, 1, res.Variants[0].Assignments+res.Variants[1].Assignments)
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, Options{Timeout: time.Second})
	_, err := c.Me(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Unavailable))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Me(ctx)
	assert.True(t, errs.Is(err, errs.Aborted))
}

func TestBearerHeaderIsRedactedInLogs(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutputForTests(&buf)
	defer restore()

	_, c := newTestClient(t)
	_ = login(t, c)

	logs := buf.String()
	assert.Contains(t, logs, "http_call")
	assert.NotContains(t, logs, account.Password)
}

func TestInspectToken(t *testing.T) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte(strings.Repeat("k", 32))}, nil)
	require.NoError(t, err)
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	token, err := jwt.Signed(signer).Claims(jwt.Claims{
		Subject: "u1",
		Issuer:  "https://deck",
		Expiry:  jwt.NewNumericDate(exp),
	}).CompactSerialize()
	require.NoError(t, err)

	info, err := InspectToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", info.Subject)
	assert.Equal(t, "https://deck", info.Issuer)
	assert.True(t, info.ExpiresAt.Equal(exp))
	assert.True(t, info.IssuedAt.IsZero())

	_, err = InspectToken("pdk_opaque-api-key")
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "boom", errorMessage([]byte(`{"error":"boom"}`)))
	assert.Equal(t, "bad", errorMessage([]byte(`{"message":"bad"}`)))
	assert.Equal(t, "plain text", errorMessage([]byte("  plain text \n")))
}
