package app

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRootCommand_RegistersSubcommands(t *testing.T) {
	root := NewRootCommand(io.Discard)

	for _, path := range [][]string{
		{"run"},
		{"worker"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "version"},
		{"cache", "clear"},
		{"trending"},
		{"healthcheck"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil {
			t.Errorf("Find(%v) error = %v", path, err)
			continue
		}
		if cmd.Name() != path[len(path)-1] {
			t.Errorf("Find(%v) = %q", path, cmd.Name())
		}
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{CommandRun, "run"},
		{CommandWorker, "worker"},
		{CommandMigrate, "migrate"},
		{CommandCache, "cache"},
		{CommandTrending, "trending"},
		{CommandHealthcheck, "healthcheck"},
	}

	for _, tt := range tests {
		if got := string(tt.cmd); got != tt.want {
			t.Errorf("Command(%q) string = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestParseSteps(t *testing.T) {
	tests := []struct {
		args    []string
		want    int
		wantErr bool
	}{
		{nil, 1, false},
		{[]string{"3"}, 3, false},
		{[]string{"0"}, 0, true},
		{[]string{"-2"}, 0, true},
		{[]string{"all"}, 0, true},
	}
	for _, tt := range tests {
		got, err := parseSteps(tt.args)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSteps(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("parseSteps(%v) = %d, want %d", tt.args, got, tt.want)
		}
	}
}

func TestRun_UnknownCommand_ReturnsError(t *testing.T) {
	var out bytes.Buffer
	if err := Run(io.Discard, &out, []string{"serve"}); err == nil {
		t.Fatal("unknown command should return error")
	}
}

func TestRun_RejectsExtraArgs(t *testing.T) {
	var out bytes.Buffer
	if err := Run(io.Discard, &out, []string{"run", "extra"}); err == nil {
		t.Fatal("run with extra args should return error")
	}
}

func TestRun_MigrateDown_InvalidSteps(t *testing.T) {
	setTestEnv(t)

	var out bytes.Buffer
	err := Run(io.Discard, &out, []string{"migrate", "down", "zero"})
	if err == nil || !strings.Contains(err.Error(), "steps") {
		t.Fatalf("err = %v, want steps validation error", err)
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	var out bytes.Buffer
	err := Run(io.Discard, &out, []string{"run"})
	if err == nil || !strings.Contains(err.Error(), "initialization failed") {
		t.Fatalf("err = %v, want initialization error", err)
	}
}

func TestRun_Healthcheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"healthy", http.StatusOK, false},
		{"unhealthy", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("path = %q, want /health", r.URL.Path)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, port, err := net.SplitHostPort(srv.Listener.Addr().String())
			if err != nil {
				t.Fatalf("failed to split listener address: %v", err)
			}
			t.Setenv("SERVER_PORT", port)

			err = Run(io.Discard, io.Discard, []string{"healthcheck"})
			if (err != nil) != tt.wantErr {
				t.Errorf("healthcheck error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
