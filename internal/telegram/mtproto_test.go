package telegram

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeToken(t *testing.T) {
	blob := []byte(`{"Version":1,"Data":{}}`)

	for name, token := range map[string]string{
		"std":     base64.StdEncoding.EncodeToString(blob),
		"raw url": base64.RawURLEncoding.EncodeToString(blob),
		"padded":  "  " + base64.StdEncoding.EncodeToString(blob) + "\n",
	} {
		t.Run(name, func(t *testing.T) {
			got, err := DecodeToken(token)
			require.NoError(t, err)
			assert.Equal(t, blob, got)
		})
	}

	_, err := DecodeToken("not base64 at all!")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = DecodeToken("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// stringSession builds a StringSession token the way JavaScript MTProto
// clients print it.
func stringSession(dc byte, addr string, port uint16, key []byte) string {
	raw := []byte{dc}
	raw = binary.BigEndian.AppendUint16(raw, uint16(len(addr)))
	raw = append(raw, addr...)
	raw = binary.BigEndian.AppendUint16(raw, port)
	raw = append(raw, key...)
	return "1" + base64.StdEncoding.EncodeToString(raw)
}

func testAuthKey() []byte {
	key := make([]byte, 256)
	for i := range key {
		key[i] = byte(i * 7)
	}
	return key
}

func TestParseStringSession(t *testing.T) {
	key := testAuthKey()
	sum := sha1.Sum(key)
	valid := stringSession(2, "149.154.167.41", 443, key)

	tests := []struct {
		name     string
		token    string
		wantAddr string
		wantErr  bool
	}{
		{"ipv4", valid, "149.154.167.41:443", false},
		{"trailing newline", valid + "\n", "149.154.167.41:443", false},
		{"ipv6", stringSession(2, "2001:67c:4e8:f002::a", 443, key), "[2001:67c:4e8:f002::a]:443", false},
		{"url alphabet", "1" + base64.URLEncoding.EncodeToString(mustDecode(t, valid[1:])), "149.154.167.41:443", false},
		{"truncated key", stringSession(2, "149.154.167.41", 443, key[:100]), "", true},
		{"too short", "1" + base64.StdEncoding.EncodeToString([]byte{2}), "", true},
		{"not base64", "1!!!", "", true},
		{"other version", "2" + valid[1:], "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := ParseStringSession(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 2, data.DC)
			assert.Equal(t, tt.wantAddr, data.Addr)
			assert.Equal(t, key, data.AuthKey)
			assert.Equal(t, sum[12:], data.AuthKeyID)
		})
	}
}

func mustDecode(t *testing.T, s string) []byte {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	return raw
}

func TestStoreToken(t *testing.T) {
	ctx := context.Background()

	t.Run("string session", func(t *testing.T) {
		storage := new(session.StorageMemory)
		token := stringSession(4, "149.154.167.92", 443, testAuthKey())
		require.NoError(t, storeToken(ctx, storage, token))

		loader := session.Loader{Storage: storage}
		data, err := loader.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, data.DC)
		assert.Equal(t, "149.154.167.92:443", data.Addr)
		assert.Equal(t, testAuthKey(), data.AuthKey)
	})

	t.Run("gotd blob", func(t *testing.T) {
		storage := new(session.StorageMemory)
		blob := []byte(`{"Version":1,"Data":{}}`)
		token := base64.StdEncoding.EncodeToString(blob)
		require.False(t, strings.HasPrefix(token, "1"))
		require.NoError(t, storeToken(ctx, storage, token))

		got, err := storage.LoadSession(ctx)
		require.NoError(t, err)
		assert.Equal(t, blob, got)
	})

	t.Run("invalid", func(t *testing.T) {
		storage := new(session.StorageMemory)
		assert.ErrorIs(t, storeToken(ctx, storage, "1AgAO"), ErrInvalidToken)
		assert.ErrorIs(t, storeToken(ctx, storage, "%%%"), ErrInvalidToken)
	})
}

func TestMarkedID(t *testing.T) {
	assert.Equal(t, int64(42), markedID("user", 42))
	assert.Equal(t, int64(-42), markedID("chat", 42))
	assert.Equal(t, int64(-1000000000042), markedID("channel", 42))
}

func TestPeerOf(t *testing.T) {
	kind, id := peerOf(&tg.PeerChannel{ChannelID: 7})
	assert.Equal(t, "channel", kind)
	assert.Equal(t, int64(7), id)

	kind, id = peerOf(&tg.PeerUser{UserID: 9})
	assert.Equal(t, "user", kind)
	assert.Equal(t, int64(9), id)
}

func TestClassify(t *testing.T) {
	assert.True(t, IsRateLimited(classify(tgerr.New(420, "FLOOD_WAIT_5"))))
	assert.ErrorIs(t, classify(tgerr.New(401, "AUTH_KEY_UNREGISTERED")), ErrSessionExpired)

	plain := errors.New("io timeout")
	assert.Equal(t, plain, classify(plain))
	assert.NoError(t, classify(nil))
}
