package realtime

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryBrokerDeliversInOrder(t *testing.T) {
	b := NewMemoryBroker()
	var got []string
	require.NoError(t, b.Publish(context.Background(), Envelope{User: "u", Frame: []byte("dropped")}))
	require.NoError(t, b.Start(context.Background(), func(e Envelope) { got = append(got, string(e.Frame)) }))
	for _, f := range []string{"a", "b", "c"} {
		require.NoError(t, b.Publish(context.Background(), Envelope{User: "u", Frame: []byte(f)}))
	}
	require.Equal(t, []string{"a", "b", "c"}, got)

	require.NoError(t, b.Close())
	require.NoError(t, b.Publish(context.Background(), Envelope{User: "u", Frame: []byte("late")}))
	require.Len(t, got, 3)
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := decodeEnvelope(`{"room":"r1","except":"u1","frame":"eyJldmVudCI6IngifQ=="}`)
	require.NoError(t, err)
	require.Equal(t, "r1", env.Room)
	require.Equal(t, `{"event":"x"}`, string(env.Frame))

	_, err = decodeEnvelope(`{"frame":"eA=="}`)
	require.Error(t, err)
	_, err = decodeEnvelope(`{"user":"u"}`)
	require.Error(t, err)
	_, err = decodeEnvelope(`nope`)
	require.Error(t, err)
}

func TestNewRedisBrokerRejectsBadURL(t *testing.T) {
	_, err := NewRedisBroker(context.Background(), "http://not-redis", "")
	require.Error(t, err)
}

func TestUpgraderOrigins(t *testing.T) {
	up := NewUpgrader([]string{"https://app.casasegura.com.br/"})
	r := httptest.NewRequest("GET", "http://api.local/chat", nil)
	require.True(t, up.CheckOrigin(r))

	r.Header.Set("Origin", "https://app.casasegura.com.br")
	require.True(t, up.CheckOrigin(r))

	r.Header.Set("Origin", "http://api.local")
	require.True(t, up.CheckOrigin(r))

	r.Header.Set("Origin", "https://evil.example")
	require.False(t, up.CheckOrigin(r))

	require.True(t, NewUpgrader([]string{"*"}).CheckOrigin(r))
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/chat?token=q", nil)
	require.Equal(t, "q", BearerToken(r))

	r.Header.Set("Authorization", "Bearer h")
	require.Equal(t, "h", BearerToken(r))

	r.Header.Set("Authorization", "Basic abc")
	require.Empty(t, BearerToken(r))
}
