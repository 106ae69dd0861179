package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/color-tally/backend/internal/config"
	"github.com/color-tally/backend/internal/counter"
	"github.com/color-tally/backend/internal/hub"
	"github.com/color-tally/backend/internal/ws"
)

func testApp(out *bytes.Buffer) *cli.App {
	app := newApp()
	app.Writer = out
	app.ErrWriter = out
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

func TestConfigCommand_PrintsDefaults(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, testApp(&out).Run([]string{"tally", "config"}))

	var got config.Config
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, *config.Default(), got)
}

func TestConfigCommand_Write(t *testing.T) {
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	require.NoError(t, testApp(&out).Run([]string{"tally", "config", "--write"}))
	assert.Contains(t, out.String(), "config.yaml")

	cfg, err := config.Load(filepath.Join(".", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestVoteCommand(t *testing.T) {
	st := ws.NewState(counter.NewStore(), counter.NewPresence(), hub.New(8), zerolog.Nop())
	srv := ws.NewServer(config.Default(), st, zerolog.Nop())
	web := httptest.NewServer(srv.Handler())
	defer web.Close()

	var out bytes.Buffer
	err := testApp(&out).Run([]string{"tally", "vote", "--server", web.URL, "-n", "3", "Blue"})
	require.NoError(t, err)
	assert.Equal(t, "blue=3 total=3\n", out.String())
	assert.Equal(t, uint64(3), st.Counters.Get(counter.Blue))
}

func TestVoteCommand_RejectsBadInput(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, testApp(&out).Run([]string{"tally", "vote", "orange"}))
	assert.Error(t, testApp(&out).Run([]string{"tally", "vote"}))
}

func TestWSURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080/api/ws"},
		{in: "https://tally.example.com/", want: "wss://tally.example.com/api/ws"},
		{in: "ws://host:1/prefix", want: "ws://host:1/prefix/api/ws"},
		{in: "ftp://host", wantErr: true},
		{in: "http://", wantErr: true},
	}
	for _, tt := range tests {
		got, err := wsURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestServe_ShutsDownAndSaves(t *testing.T) {
	dir := t.TempDir()
	snapshot := filepath.Join(dir, "state.json")
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := "server:\n  host: 127.0.0.1\n  port: 18599\n  shutdown_grace: 100ms\n" +
		"snapshot:\n  path: " + snapshot + "\n" +
		"log:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		var out bytes.Buffer
		done <- testApp(&out).RunContext(ctx, []string{"tally", "--config", cfgPath, "--mock"})
	}()

	time.Sleep(1500 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	data, err := os.ReadFile(snapshot)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"total"`)
}
