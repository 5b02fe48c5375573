package main

import (
	"bytes"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarmo/md4sat/internal/config"
	"github.com/rcarmo/md4sat/internal/md4"
	"github.com/rcarmo/md4sat/internal/message"
)

func ntHash(t *testing.T, password string) string {
	t.Helper()
	data, err := message.Encode(password)
	require.NoError(t, err)
	return md4.Sum(data).String()
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := execute(t, "version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, appName+" "+appVersion)
	assert.Contains(t, out, "gini")
}

func TestHelp(t *testing.T) {
	code, out, _ := execute(t, "--help")
	assert.Equal(t, exitOK, code)
	for _, sub := range []string{"recover", "hash", "serve", "version", "--config", "--log-level"} {
		assert.Contains(t, out, sub)
	}
}

func TestHash(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
		out  string
	}{
		{"empty password", []string{"hash", ""}, exitOK, "31D6CFE0D16AE931B73C59D7E0C089C0\n"},
		{"single character", []string{"hash", "A"}, exitOK, ntHash(t, "A") + "\n"},
		{"wide character", []string{"hash", "€"}, exitUsage, ""},
		{"missing argument", []string{"hash"}, exitUsage, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, _ := execute(t, tt.args...)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.out, out)
		})
	}
}

func TestRecover(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		guessed string
		pass    []string
	}{
		{
			name:    "known password",
			args:    []string{"recover", "-H", ntHash(t, "A"), "-p", "A"},
			guessed: "Guessed 512 bits out of 512",
			pass:    []string{"A"},
		},
		{
			name:    "known password reverse",
			args:    []string{"recover", "-H", ntHash(t, "key"), "-p", "key", "-r"},
			guessed: "Guessed 512 bits out of 512",
			pass:    []string{"key"},
		},
		{
			name:    "explicit empty password",
			args:    []string{"recover", "-H", ntHash(t, ""), "-p", ""},
			guessed: "Guessed 512 bits out of 512",
			pass:    []string{""},
		},
		{
			name:    "explicit empty password reverse",
			args:    []string{"recover", "-H", ntHash(t, ""), "--password=", "-r"},
			guessed: "Guessed 512 bits out of 512",
			pass:    []string{""},
		},
		{
			name:    "unknown characters",
			args:    []string{"recover", "-H", ntHash(t, "x"), "-H", ntHash(t, "7"), "-l", "1", "--workers", "2"},
			guessed: "Guessed 505 bits out of 512",
			pass:    []string{"x", "7"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, stderr := execute(t, tt.args...)
			require.Equal(t, exitOK, code, stderr)

			lines := strings.Split(strings.TrimSpace(out), "\n")
			require.Len(t, lines, 1+3*len(tt.pass))
			assert.Equal(t, tt.guessed, lines[0])
			for i, pw := range tt.pass {
				block := lines[1+3*i:]
				assert.Equal(t, "Hash: "+ntHash(t, pw), block[0])
				assert.Equal(t, "Pass: "+pw, block[1])
				assert.True(t, strings.HasPrefix(block[2], "Message: "))
				assert.Len(t, strings.Fields(block[2]), 1+message.Words)
			}
		})
	}
}

func TestRecoverMessageLine(t *testing.T) {
	code, out, _ := execute(t, "recover", "-H", ntHash(t, "A"), "-p", "A")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Message: 41008000 00000000")
	assert.Contains(t, out, " 10000000 00000000\n")
}

func TestRecoverFailures(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		code    int
		errPart string
	}{
		{"wrong digest", []string{"recover", "-H", ntHash(t, "B"), "-p", "A"}, exitFailure, "no consistent password"},
		{"missing hash", []string{"recover", "-p", "A"}, exitUsage, `required flag(s) "hash" not set`},
		{"malformed hash", []string{"recover", "-H", "abc", "-p", "A"}, exitUsage, "malformed MD4 digest"},
		{"length too long", []string{"recover", "-H", ntHash(t, "A"), "-l", "28"}, exitUsage, "malformed password length"},
		{"no length", []string{"recover", "-H", ntHash(t, "A")}, exitUsage, "password length or known password required"},
		{"invalid workers", []string{"recover", "-H", ntHash(t, "A"), "-p", "A", "--workers", "1000"}, exitUsage, "workers must be between 1 and 256"},
		{"unknown flag", []string{"recover", "--salt", "x"}, exitUsage, "unknown flag"},
		{"unknown command", []string{"crack"}, exitUsage, "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(t, tt.args...)
			assert.Equal(t, tt.code, code)
			assert.Contains(t, stderr, tt.errPart)
		})
	}
}

func TestRecoverPartialFailure(t *testing.T) {
	code, out, stderr := execute(t, "recover", "-H", ntHash(t, "A"), "-H", ntHash(t, "B"), "-p", "A")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, out, "Pass: A")
	assert.Contains(t, out, "Hash: "+ntHash(t, "B")+"\nError: ")
	assert.Contains(t, stderr, "no consistent password")
}

func TestRecoverVerbose(t *testing.T) {
	code, _, stderr := execute(t, "recover", "-H", ntHash(t, "A"), "-p", "A", "-v")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stderr, "Step 1 (")
	assert.Contains(t, stderr, "Step 48 (")
	assert.Contains(t, stderr, "level=DEBUG")
}

func TestRecoverConfigFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("logging:\n  level: debug\n  format: json\n"), 0o600))
	code, _, stderr := execute(t, "--config", good, "recover", "-H", ntHash(t, "A"), "-p", "A")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stderr, `"msg":"Step 48`)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("recovery:\n  threads: 4\n"), 0o600))
	code, _, stderr = execute(t, "--config", bad, "recover", "-H", ntHash(t, "A"), "-p", "A")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "failed to load config")

	code, _, _ = execute(t, "--config", filepath.Join(dir, "missing.yaml"), "hash", "A")
	assert.Equal(t, exitOK, code, "hash does not read the configuration")
}

func TestStartServerNilServer(t *testing.T) {
	err := startServer(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server is nil")
}

func TestStartServerInvalidAddress(t *testing.T) {
	server := &http.Server{Addr: "invalid-address:99999"}
	assert.Error(t, startServer(server, config.Default()))
}

func TestStartServerAlreadyInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	server := &http.Server{Addr: ln.Addr().String()}
	assert.Error(t, startServer(server, config.Default()))
}

func TestStartServerShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	server := &http.Server{Addr: addr, Handler: http.NotFoundHandler()}
	done := make(chan error, 1)
	go func() { done <- startServer(server, config.Default()) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, server.Close())
	assert.NoError(t, <-done)
}
