package tlsinfo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/entities"
)

func TestParseCertInfo(t *testing.T) {
	t.Parallel()

	future := time.Now().Add(30 * 24 * time.Hour).Format(expireDateFormat)
	past := time.Now().Add(-time.Hour).Format(expireDateFormat)

	t.Run("check valid certificate", func(t *testing.T) {
		t.Parallel()

		info, err := parseCertInfo([]string{"Subject:CN = custom.example.org\nExpire date:" + future})
		require.NoError(t, err)
		require.True(t, info.Valid)
		require.Equal(t, future, info.ExpiredAt.Format(expireDateFormat))
	})

	t.Run("check expired certificate is invalid", func(t *testing.T) {
		t.Parallel()

		info, err := parseCertInfo([]string{"Subject:CN = custom.example.org\nExpire date:" + past})
		require.NoError(t, err)
		require.False(t, info.Valid)
	})

	t.Run("check self signed issuer is invalid", func(t *testing.T) {
		t.Parallel()

		info, err := parseCertInfo([]string{"Subject:CN = ISRG Root\nExpire date:" + future})
		require.NoError(t, err)
		require.False(t, info.Valid)
	})

	t.Run("check missing expire date errors", func(t *testing.T) {
		t.Parallel()

		_, err := parseCertInfo([]string{"Subject:CN = custom.example.org"})
		require.ErrorIs(t, err, errMissingExpireDate)
	})

	t.Run("check malformed expire date errors", func(t *testing.T) {
		t.Parallel()

		_, err := parseCertInfo([]string{"Subject:CN = custom.example.org\nExpire date:01-02-2006"})
		require.Error(t, err)
	})

	t.Run("check empty cert list errors", func(t *testing.T) {
		t.Parallel()

		info, err := parseCertInfo([]string{""})
		require.Equal(t, entities.CertInfo{}, info)
		require.Error(t, err)
	})
}
