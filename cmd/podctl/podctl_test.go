package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/podpilot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers the PodPilot API routes podctl uses.
type fakeServer struct {
	mu         sync.Mutex
	keys       []string
	createdPod map[string]any
	sessionReq models.CreateSessionLogRequest
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	data := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{"data": v})
	}
	fail := func(w http.ResponseWriter, status int, body map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{"error": body})
	}

	mux.HandleFunc("GET /api/v1/pods", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		data(w, http.StatusOK, []map[string]any{
			{"id": "pod-1", "name": "abc", "desiredStatus": "RUNNING", "costPerHr": 0.79,
				"gpu": map[string]any{"count": 1, "displayName": "A40"}},
		})
	})
	mux.HandleFunc("GET /api/v1/pods/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if r.PathValue("id") != "pod-1" {
			fail(w, http.StatusNotFound, map[string]any{"code": "NOT_FOUND", "message": "Pod not found"})
			return
		}
		data(w, http.StatusOK, map[string]any{"id": "pod-1", "gpuCount": 2})
	})
	mux.HandleFunc("POST /api/v1/pods", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		f.mu.Lock()
		f.createdPod = payload
		f.mu.Unlock()
		data(w, http.StatusCreated, map[string]any{"id": "pod-new", "name": payload["name"]})
	})
	mux.HandleFunc("DELETE /api/v1/pods/{id}", func(w http.ResponseWriter, r *http.Request) {
		data(w, http.StatusOK, map[string]any{"success": true, "message": "Pod " + r.PathValue("id") + " terminated successfully"})
	})
	mux.HandleFunc("POST /api/v1/logs/training", func(w http.ResponseWriter, r *http.Request) {
		var req models.CreateSessionLogRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.sessionReq = req
		f.mu.Unlock()
		data(w, http.StatusCreated, map[string]any{
			"success": true, "sessionId": "11111111-2222-3333-4444-555555555555", "state": "CREATED",
		})
	})
	mux.HandleFunc("GET /api/v1/logs/training/{id}", func(w http.ResponseWriter, _ *http.Request) {
		fail(w, http.StatusNotFound, map[string]any{
			"code": "NOT_FOUND", "message": "Training session log not found (may have been uploaded to S3)",
			"details": map[string]any{"state": "ARCHIVED", "url": "http://minio:9000/training-logs/x.json"},
		})
	})
	mux.HandleFunc("GET /api/v1/logs/training", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"sessionId":"11111111-2222-3333-4444-555555555555","username":"alice",
			"podId":"pod-1","trainingType":"piper","state":"CREATED","createdAt":"2026-10-17T10:00:00Z"}],
			"meta":{"page":1,"limit":1,"total":3,"has_next":true}}`))
	})
	return mux
}

func (f *fakeServer) record(r *http.Request) {
	f.mu.Lock()
	f.keys = append(f.keys, r.Header.Get("X-RunPod-Api-Key"))
	f.mu.Unlock()
}

func (f *fakeServer) seenKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func newFake(t *testing.T) (*fakeServer, string) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	f := &fakeServer{}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return f, srv.URL
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"pods", "submit", "logs"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestPodsList_Table(t *testing.T) {
	_, url := newFake(t)

	out, _, err := run(t, "--server", url, "pods", "list")
	require.NoError(t, err)

	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "pod-1")
	assert.Contains(t, out, "A40")
	assert.Contains(t, out, "$0.79/hr")
}

func TestPodsList_JSON(t *testing.T) {
	_, url := newFake(t)

	out, _, err := run(t, "--server", url, "-o", "json", "pods", "list")
	require.NoError(t, err)

	var pods []models.PodSummary
	require.NoError(t, json.Unmarshal([]byte(out), &pods))
	require.Len(t, pods, 1)
	assert.Equal(t, "A40", pods[0].GPUDisplayName)
	assert.Equal(t, 1, pods[0].GPUCount)
}

func TestPodsGet_YAML(t *testing.T) {
	_, url := newFake(t)

	out, _, err := run(t, "--server", url, "-o", "yaml", "pods", "get", "pod-1")
	require.NoError(t, err)
	assert.Contains(t, out, "id: pod-1")
	assert.Contains(t, out, "gpuCount: 2")
}

func TestPodsGet_NotFound(t *testing.T) {
	_, url := newFake(t)

	_, _, err := run(t, "--server", url, "pods", "get", "nope")
	require.Error(t, err)
	assert.Equal(t, `pod "nope" not found`, err.Error())
}

func TestPodsDelete(t *testing.T) {
	_, url := newFake(t)

	out, _, err := run(t, "--server", url, "pods", "delete", "pod-1")
	require.NoError(t, err)
	assert.Equal(t, "Pod pod-1 terminated successfully\n", out)
}

func TestInvalidOutputFormat(t *testing.T) {
	_, url := newFake(t)

	_, _, err := run(t, "--server", url, "-o", "xml", "pods", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output format")
}

func TestInvalidOutputFormat_FromConfigFile(t *testing.T) {
	f, url := newFake(t)
	cfg := writeFile(t, "podctl.yaml", "output: xml\n")

	_, _, err := run(t, "--server", url, "--config", cfg, "pods", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output format")
	assert.Empty(t, f.seenKeys(), "no request sent")
}

func TestOutputFormat_FromHomeConfig(t *testing.T) {
	_, url := newFake(t)
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(home, ".podctl.yaml"), []byte("output: json\n"), 0o600))

	out, _, err := run(t, "--server", url, "pods", "list")
	require.NoError(t, err)
	var pods []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &pods), "json output: %s", out)
}

func TestSettings_FromEnvironment(t *testing.T) {
	f, url := newFake(t)
	t.Setenv("PODCTL_SERVER", url)
	t.Setenv("PODCTL_API_KEY", "rp_env")

	_, _, err := run(t, "pods", "list")
	require.NoError(t, err)

	assert.Equal(t, []string{"rp_env"}, f.seenKeys())
}

func TestSettings_FromConfigFile(t *testing.T) {
	f, url := newFake(t)
	cfg := writeFile(t, "podctl.yaml", "server: "+url+"\napi-key: rp_file\n")

	_, _, err := run(t, "--config", cfg, "pods", "list")
	require.NoError(t, err)

	assert.Equal(t, []string{"rp_file"}, f.seenKeys())
}

func TestSettings_FlagBeatsEnvironment(t *testing.T) {
	f, url := newFake(t)
	t.Setenv("PODCTL_SERVER", "http://127.0.0.1:1")
	t.Setenv("PODCTL_API_KEY", "rp_env")

	_, _, err := run(t, "--server", url, "--api-key", "rp_flag", "pods", "list")
	require.NoError(t, err)
	assert.Equal(t, []string{"rp_flag"}, f.seenKeys())
}

func TestSettings_MissingConfigFile(t *testing.T) {
	_, url := newFake(t)

	_, _, err := run(t, "--server", url, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "pods", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

const jobYAML = `
name: abc
gpuTypeIds: ["NVIDIA A40"]
hfDatasetRepoId: org/dataset
hfDatasetDownloadToken: hf_dataset
hfUploadRepoId: org/model
hfUploadToken: hf_upload
hfSessionName: run-1
language: ne
`

func TestLoadJobFile(t *testing.T) {
	cfg, err := loadJobFile(writeFile(t, "job.yaml", jobYAML))
	require.NoError(t, err)

	assert.Equal(t, "abc", cfg.Name)
	assert.Equal(t, []string{"NVIDIA A40"}, cfg.GPUTypeIDs)
	assert.Equal(t, models.CloudTypeSecure, cfg.CloudType)
	assert.Equal(t, "ne", cfg.Language)
	assert.Equal(t, 50, cfg.MaxEpochs)
	assert.Equal(t, "/workspace", cfg.VolumeMountPath)
	require.NoError(t, cfg.Validate())
}

func TestLoadJobFile_CloudType(t *testing.T) {
	cfg, err := loadJobFile(writeFile(t, "job.yaml", "gpuTypeIds: [\"NVIDIA GeForce RTX 4090\"]\n"))
	require.NoError(t, err)
	assert.Equal(t, models.CloudTypeCommunity, cfg.CloudType)

	cfg, err = loadJobFile(writeFile(t, "job.yaml", "gpuTypeIds: [\"NVIDIA GeForce RTX 4090\"]\ncloudType: SECURE\n"))
	require.NoError(t, err)
	assert.Equal(t, models.CloudTypeSecure, cfg.CloudType)
}

func TestLoadJobFile_Errors(t *testing.T) {
	_, err := loadJobFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read job file")

	_, err = loadJobFile(writeFile(t, "job.yaml", "name: [unclosed"))
	assert.ErrorContains(t, err, "parse job file")
}

func TestSubmit(t *testing.T) {
	f, url := newFake(t)
	job := writeFile(t, "job.yaml", jobYAML)

	out, _, err := run(t, "--server", url, "submit", "-f", job, "--username", "alice",
		"--training-type", "gemma",
		"--checkpoint-url", "https://huggingface.co/org/model/resolve/main/epoch=9-step=10.ckpt")
	require.NoError(t, err)

	assert.Contains(t, out, "Pod pod-new created")
	assert.Contains(t, out, "Session 11111111-2222-3333-4444-555555555555 (CREATED)")

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "abc", f.createdPod["name"])
	env := f.createdPod["env"].(map[string]any)
	assert.Equal(t, "110", env["MAX_EPOCHS"])
	assert.Equal(t, "epoch=9-step=10.ckpt", env["HF_CHECKPOINT_NAME"])

	assert.Equal(t, "alice", f.sessionReq.Username)
	assert.Equal(t, "pod-new", f.sessionReq.PodID)
	assert.Equal(t, models.TrainingTypeGemma, f.sessionReq.TrainingType)
	assert.Equal(t, "NVIDIA A40", f.sessionReq.Pod.GPUType)
}

func TestSubmit_UsernameFromEnvironment(t *testing.T) {
	f, url := newFake(t)
	t.Setenv("PODCTL_USERNAME", "bob")

	_, _, err := run(t, "--server", url, "submit", "-f", writeFile(t, "job.yaml", jobYAML))
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "bob", f.sessionReq.Username)
	assert.Equal(t, models.TrainingTypePiper, f.sessionReq.TrainingType)
}

func TestSubmit_Rejections(t *testing.T) {
	f, url := newFake(t)
	job := writeFile(t, "job.yaml", jobYAML)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no username", []string{"submit", "-f", job}, "username is required"},
		{"bad training type", []string{"submit", "-f", job, "--username", "a", "--training-type", "bert"}, "invalid training type"},
		{"short name", []string{"submit", "-f", job, "--username", "a", "--name", "x"}, "at least 3 characters"},
		{"no file", []string{"submit", "--username", "a"}, "required flag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, append([]string{"--server", url}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Nil(t, f.createdPod)
}

func TestLogsGet_Archived(t *testing.T) {
	_, url := newFake(t)

	_, _, err := run(t, "--server", url, "logs", "get", "11111111-2222-3333-4444-555555555555")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archived copy at http://minio:9000/training-logs/x.json")
}

func TestLogsList_Table(t *testing.T) {
	_, url := newFake(t)

	out, _, err := run(t, "--server", url, "logs", "list", "--limit", "1")
	require.NoError(t, err)

	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "page 1, 1 of 3 sessions, more with --page 2")
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("24h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), got)

	got, err = parseSince("2026-10-01T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = parseSince("-1h", now)
	assert.Error(t, err)
	_, err = parseSince("last week", now)
	assert.Error(t, err)
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "-", formatUptime(0))
	assert.Equal(t, "1h1m1s", formatUptime(3661))
}
