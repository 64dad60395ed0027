package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	val   string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.val, f.err
}

func TestNewAPIKey_Validates(t *testing.T) {
	_, err := NewAPIKey(nil, "name")
	require.ErrorContains(t, err, "nil")
	_, err = NewAPIKey(&fakeGetter{}, " ")
	require.ErrorContains(t, err, "empty")
}

func TestResolve_FormatsAndCaching(t *testing.T) {
	cases := []struct {
		name    string
		val     string
		want    string
		wantErr string
	}{
		{name: "json token", val: `{"token":"sk-json"}`, want: "sk-json"},
		{name: "raw token", val: "  sk-raw\n", want: "sk-raw"},
		{name: "json without token", val: `{"other":"v"}`, wantErr: "is empty"},
		{name: "malformed json", val: `{"broken`, wantErr: "unmarshal"},
		{name: "blank", val: "  ", wantErr: "is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := &fakeGetter{val: tc.val}
			k, err := NewAPIKey(g, "/discussion-agent/open-ai-token")
			require.NoError(t, err)

			key, err := k.Resolve(context.Background())
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, key)

			_, _ = k.Resolve(context.Background())
			require.Equal(t, 1, g.calls, "a resolved key must not be fetched again")
		})
	}
}

func TestResolve_RetriesAfterFailure(t *testing.T) {
	g := &fakeGetter{err: errors.New("ssm unavailable")}
	k, err := NewAPIKey(g, "name")
	require.NoError(t, err)

	_, err = k.Resolve(context.Background())
	require.ErrorContains(t, err, "ssm unavailable")

	g.err = nil
	g.val = "sk-later"
	key, err := k.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-later", key)
	require.Equal(t, 2, g.calls)
}

func TestStaticGetter(t *testing.T) {
	values := map[string]string{"OPENAI_API_KEY": "sk-env", "ANTHROPIC_API_KEY": " "}
	g := NewStaticGetter(values)
	values["OPENAI_API_KEY"] = "mutated"

	v, err := g.GetParameter(context.Background(), "OPENAI_API_KEY")
	require.NoError(t, err)
	require.Equal(t, "sk-env", v)

	_, err = g.GetParameter(context.Background(), "ANTHROPIC_API_KEY")
	require.ErrorContains(t, err, "ANTHROPIC_API_KEY")
	_, err = g.GetParameter(context.Background(), "MISSING")
	require.ErrorContains(t, err, "not set")
}
