package main

import (
	"bytes"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LLIEPJIOK/service-mesh/wssmoke/internal/config"
	"github.com/LLIEPJIOK/service-mesh/wssmoke/pkg/ws"
	"github.com/LLIEPJIOK/service-mesh/wssmoke/pkg/ws/wstest"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	err := cmd.Execute()

	return out.String() + errOut.String(), err
}

func encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func TestBuildConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "wssmoke.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
url: wss://from-file:9000
payload: from-file
tls:
  cert_file: client.crt
  key_file: client.key
  ca_file: ca.crt
`), 0o600))

	t.Setenv("WSSMOKE_PAYLOAD", "from-env")
	t.Setenv("WSSMOKE_URL", "wss://from-env:9000")

	tests := []struct {
		name     string
		args     []string
		expected func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "env overrides file",
			args: []string{"--config", configPath},
			expected: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "wss://from-env:9000", cfg.URL)
				assert.Equal(t, "from-env", cfg.Payload)
				assert.Equal(t, "client.crt", cfg.TLS.CertFile)
				assert.Equal(t, ws.DefaultHandshakeTimeout, cfg.HandshakeTimeout)
			},
		},
		{
			name: "flags override env",
			args: []string{
				"--config", configPath,
				"--url", "wss://from-flag:9000",
				"--ca", "/flag/ca.crt",
				"--deadline", "3s",
				"--handshake-timeout", "2s",
				"--log-format", "json",
			},
			expected: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "wss://from-flag:9000", cfg.URL)
				assert.Equal(t, "from-env", cfg.Payload)
				assert.Equal(t, "/flag/ca.crt", cfg.TLS.CAFile)
				assert.Equal(t, 3*time.Second, cfg.Deadline)
				assert.Equal(t, 2*time.Second, cfg.HandshakeTimeout)
				assert.Equal(t, "json", cfg.Logging.Format)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))

			cfg, err := buildConfig(cmd)
			require.NoError(t, err)
			tt.expected(t, cfg)
		})
	}
}

func TestBuildConfig_Invalid(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--url", "ws://plain:9000", "--cert", "a", "--key", "b", "--ca", "c"}))

	_, err := buildConfig(cmd)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRun_Success(t *testing.T) {
	pki := wstest.NewPKI(t)
	server := wstest.NewServer(t, pki, wstest.Options{Echo: true, CloseAfterFirst: true})
	files := pki.WriteFiles(t, t.TempDir())
	metricsFile := filepath.Join(t.TempDir(), "wssmoke.prom")

	out, err := execute(t,
		"--url", server.URL,
		"--base-dir", files.Dir,
		"--cert", "client.crt",
		"--key", "client.key",
		"--ca", "ca.crt",
		"--payload", "ping",
		"--metrics-file", metricsFile,
	)
	require.NoError(t, err, out)

	assert.Contains(t, out, "run_id=")
	assert.Contains(t, out, `msg="received message"`)
	assert.Contains(t, out, "data=ping")
	assert.Contains(t, out, "msg=disconnected")
	assert.Equal(t, [][]byte{[]byte("ping")}, server.Received())

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "wssmoke_frames_sent_total 1")
}

func TestRun_CredentialsFromEnv(t *testing.T) {
	pki := wstest.NewPKI(t)
	server := wstest.NewServer(t, pki, wstest.Options{CloseAfterFirst: true})

	t.Setenv("SMOKE_TLS_CERT", encode(pki.ClientCertPEM))
	t.Setenv("SMOKE_TLS_KEY", encode(pki.ClientKeyPEM))
	t.Setenv("SMOKE_TLS_CA", encode(pki.CACertPEM))

	out, err := execute(t, "--url", server.URL, "--credentials-from-env", "SMOKE")
	require.NoError(t, err, out)
	assert.Len(t, server.Received(), 1)
}

func TestRun_MissingCredentialFile(t *testing.T) {
	pki := wstest.NewPKI(t)
	server := wstest.NewServer(t, pki, wstest.Options{Echo: true})
	files := pki.WriteFiles(t, t.TempDir())
	require.NoError(t, os.Remove(files.KeyFile))

	out, err := execute(t,
		"--url", server.URL,
		"--cert", files.CertFile,
		"--key", files.KeyFile,
		"--ca", files.CAFile,
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ws.ErrCredentialLoad)
	assert.Contains(t, out, "kind=credential_load")
	assert.Equal(t, 0, server.Upgrades())
}

func TestRun_UntrustedServer(t *testing.T) {
	pki := wstest.NewPKI(t)
	server := wstest.NewServer(t, wstest.NewPKI(t), wstest.Options{Echo: true})
	files := pki.WriteFiles(t, t.TempDir())

	out, err := execute(t,
		"--url", server.URL,
		"--cert", files.CertFile,
		"--key", files.KeyFile,
		"--ca", files.CAFile,
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, errSmokeFailed)
	assert.ErrorIs(t, err, ws.ErrTLSValidation)
	assert.Contains(t, out, "kind=tls_validation")
	assert.Contains(t, out, "final state failed, frames sent 0")
	assert.Empty(t, server.Received())
}

func TestRun_NetworkDropFails(t *testing.T) {
	pki := wstest.NewPKI(t)
	server := wstest.NewServer(t, pki, wstest.Options{DropAfterFirst: true})
	files := pki.WriteFiles(t, t.TempDir())

	_, err := execute(t,
		"--url", server.URL,
		"--cert", files.CertFile,
		"--key", files.KeyFile,
		"--ca", files.CAFile,
	)
	assert.ErrorIs(t, err, ws.ErrNetwork)
	assert.ErrorIs(t, err, errSmokeFailed)
}

func TestRun_ServerRejectsClientCertificate(t *testing.T) {
	pki := wstest.NewPKI(t)
	server := wstest.NewServer(t, pki, wstest.Options{Echo: true})

	// клиентский сертификат выпущен CA, которому сервер не доверяет
	foreign := wstest.NewPKI(t)
	files := foreign.WriteFiles(t, t.TempDir())
	require.NoError(t, os.WriteFile(files.CAFile, pki.CACertPEM, 0o644))

	out, err := execute(t,
		"--url", server.URL,
		"--cert", files.CertFile,
		"--key", files.KeyFile,
		"--ca", files.CAFile,
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, errSmokeFailed)
	assert.ErrorIs(t, err, ws.ErrTLSHandshake)
	assert.Equal(t, ws.KindTLSHandshake, ws.KindOf(err))
	assert.Contains(t, out, "kind=tls_handshake")
	assert.Contains(t, out, "final state failed, frames sent 0")
	assert.Equal(t, 0, server.Upgrades())
}

func TestReport(t *testing.T) {
	tests := []struct {
		name    string
		state   ws.State
		sent    int
		err     error
		wantErr error
	}{
		{name: "closed after send", state: ws.StateClosed, sent: 1},
		{name: "closed before send", state: ws.StateClosed, sent: 0, wantErr: errSmokeFailed},
		{
			name:    "closed after network drop",
			state:   ws.StateClosed,
			sent:    1,
			err:     &ws.Error{Kind: ws.KindNetwork, Op: "read"},
			wantErr: ws.ErrNetwork,
		},
		{
			name:    "failed",
			state:   ws.StateFailed,
			err:     &ws.Error{Kind: ws.KindTLSValidation, Op: "dial"},
			wantErr: ws.ErrTLSValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := report(io.Discard, tt.state, tt.sent, tt.err)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, errSmokeFailed)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
