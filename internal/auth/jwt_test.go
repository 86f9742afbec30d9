package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "admin-secret-at-least-32-chars-long!"

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	mgr := NewJWTManager(testSecret, 15*time.Minute)

	t.Run("generate and validate", func(t *testing.T) {
		tok, err := mgr.Generate("ops")
		require.NoError(t, err)
		assert.NotEmpty(t, tok.AccessToken)
		assert.Equal(t, "Bearer", tok.TokenType)
		assert.Equal(t, int64(900), tok.ExpiresIn)

		claims, err := mgr.Validate(tok.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "ops", claims.Username)
		assert.Equal(t, "llmgate", claims.Issuer)
		assert.NotEmpty(t, claims.ID)
	})

	t.Run("invalid token fails validation", func(t *testing.T) {
		_, err := mgr.Validate("invalid-token")
		assert.Error(t, err)
	})

	t.Run("other secret fails", func(t *testing.T) {
		tok, err := NewJWTManager("another-secret-at-least-32-chars!!", time.Minute).Generate("ops")
		require.NoError(t, err)
		_, err = mgr.Validate(tok.AccessToken)
		assert.Error(t, err)
	})

	t.Run("expired token fails", func(t *testing.T) {
		shortMgr := NewJWTManager(testSecret, time.Minute)
		start := time.Now()
		shortMgr.now = func() time.Time { return start }
		tok, err := shortMgr.Generate("ops")
		require.NoError(t, err)

		shortMgr.now = func() time.Time { return start.Add(2 * time.Minute) }
		_, err = shortMgr.Validate(tok.AccessToken)
		assert.Error(t, err)
	})
}
