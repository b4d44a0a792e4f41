package trantoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/custodian-auth-backend/cryptoutils"
)

func testKey(t *testing.T, seed string) cryptoutils.DerivedKey {
	t.Helper()
	return cryptoutils.KeyFromPoint(cryptoutils.PasswordPoint([]byte(seed)))
}

func TestTokenLifecycle(t *testing.T) {
	key := testKey(t, "node-key")

	token := New().Sign(key, []byte("payload"))
	assert.True(t, token.OnTime(DefaultWindow), "fresh token must be on time")
	assert.True(t, token.Check(key, []byte("payload")), "tag must verify with issuing key and payload")

	assert.False(t, token.Check(key, []byte("other")), "different payload must fail")
	assert.False(t, token.Check(testKey(t, "other-key"), []byte("payload")), "different key must fail")
}

func TestTokenExpiry(t *testing.T) {
	key := testKey(t, "node-key")

	token := New().Sign(key)
	token.IssuedAt = time.Now().Add(-DefaultWindow - 2*time.Second)

	// Past the window the token is stale, regardless of the tag: the
	// signature was not recomputed, so Check on the rewound copy fails,
	// but a genuinely old token keeps a valid tag.
	old := New()
	old.IssuedAt = time.Now().UTC().Add(-DefaultWindow - 2*time.Second).Truncate(time.Second)
	old.Sign(key)
	assert.True(t, old.Check(key), "old token's tag is still authentic")
	assert.False(t, old.OnTime(DefaultWindow), "old token must be expired")
}

func TestTokenEncoding(t *testing.T) {
	key := testKey(t, "node-key")
	token := New().Sign(key, []byte("bound"))

	parsed, err := Parse(token.Encode())
	require.NoError(t, err)
	assert.Equal(t, token.ID, parsed.ID)
	assert.True(t, token.IssuedAt.Equal(parsed.IssuedAt))
	assert.True(t, parsed.Check(key, []byte("bound")), "round-tripped token must still verify")

	parsed2, err := ParseString(token.EncodeString())
	require.NoError(t, err)
	assert.True(t, parsed2.Check(key, []byte("bound")))

	_, err = Parse([]byte("short"))
	assert.Error(t, err, "truncated token must be rejected")

	_, err = ParseString("!!!not-base64!!!")
	assert.Error(t, err, "invalid encoding must be rejected")
}

func TestTokenCopyResign(t *testing.T) {
	issuing := testKey(t, "issuer")
	perNode := issuing.Derive([]byte("node-1"))

	token := New().Sign(issuing)
	resigned := token.Copy().Sign(perNode, []byte("user"))

	assert.True(t, token.Check(issuing), "original token must keep its tag")
	assert.True(t, resigned.Check(perNode, []byte("user")), "copy must verify under the new key")
	assert.Equal(t, token.ID, resigned.ID, "copy must keep the transaction identity")
}
