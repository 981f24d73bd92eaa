package reporting

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeError(t *testing.T) {
	t.Parallel()

	t.Run("connection reset by peer", func(t *testing.T) {
		t.Parallel()

		err := `failed to send request: Get "https://public-api.wordpress.com/rest/v1.1/me": read tcp [dead:beef:feb1:d745::c001]:64079->[dead:beef::6811:112a]:443: read: connection reset by peer`
		want := `failed to send request: Get "https://public-api.wordpress.com/rest/v1.1/me": read tcp <host>-><host>: read: connection reset by peer`
		require.Equal(t, want, sanitizeError(err))
	})

	t.Run("ipv4 hosts", func(t *testing.T) {
		t.Parallel()

		err := `dial tcp 192.0.78.9:443: connect: connection refused`
		want := `dial tcp <host>: connect: connection refused`
		require.Equal(t, want, sanitizeError(err))
	})

	t.Run("context deadline", func(t *testing.T) {
		t.Parallel()

		err := `failed to send request: Get "https://public-api.wordpress.com/rest/v1.1/me": context deadline exceeded (Client.Timeout exceeded while awaiting headers)`
		require.Equal(t, err, sanitizeError(err))
	})

	t.Run("bearer tokens", func(t *testing.T) {
		t.Parallel()

		err := `unexpected header Authorization: Bearer abcdef0123456789`
		want := `unexpected header Authorization: Bearer <redacted>`
		require.Equal(t, want, sanitizeError(err))
	})

	t.Run("user ids", func(t *testing.T) {
		t.Parallel()

		err := `failed to upsert user_details entry for user 123456789: connection closed`
		want := `failed to upsert user_details entry for user <id>: connection closed`
		require.Equal(t, want, sanitizeError(err))
	})

	t.Run("status codes are kept", func(t *testing.T) {
		t.Parallel()

		err := `wordpress.com API returned status code 418: unexpected status code`
		require.Equal(t, err, sanitizeError(err))
	})

	t.Run("misc ipv6", func(t *testing.T) {
		t.Parallel()

		ips := []string{
			`1:2:3:4:5:6:7:8`,
			`1::`,
			`1:2:3:4:5:6:7::`,
			`1::8`,
			`1:2:3:4:5::7:8`,
			`1::6:7:8`,
			`1:2:3::8`,
			`::2:3:4:5:6:7:8`,
			`::8`,
			`::`,
		}
		for _, ip := range ips {
			t.Run(ip, func(t *testing.T) {
				t.Parallel()

				require.Equal(t, "<host>", sanitizeError(fmt.Sprintf("[%s]:1234", ip)))
			})
		}
	})
}
