package services

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scraper-backend/pkg/content"
	"scraper-backend/pkg/store"
	"scraper-backend/pkg/types"
)

func newTaskFixture(t *testing.T, maxBatch int) (*TaskService, *store.MemoryStore, content.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	cs, err := content.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return NewTaskService(zerolog.Nop(), s, cs, maxBatch), s, cs
}

func TestFetchOneDefaults(t *testing.T) {
	svc, s, _ := newTaskFixture(t, 0)
	r := newEngine(svc)

	w := doJSON(t, r, http.MethodPost, "/fetch_one", map[string]any{"url": "https://example.com/a"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[fetchResponse](t, w)
	assert.Equal(t, "https://example.com/a", resp.URL)
	require.NotEmpty(t, resp.TaskID)

	task, err := s.GetTask(context.Background(), resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusNew, task.Status)
	assert.Equal(t, types.MethodGet, task.Spec.Method)
	assert.Equal(t, types.DefaultRetries, task.Spec.Retries)
	assert.Equal(t, types.DefaultTimeout, task.Spec.Timeout)
	assert.False(t, task.Spec.UseCache)
}

func TestFetchOneExplicitParams(t *testing.T) {
	svc, s, _ := newTaskFixture(t, 0)
	r := newEngine(svc)

	w := doJSON(t, r, http.MethodPost, "/fetch_one", map[string]any{
		"url":       "http://example.com/form",
		"method":    "post",
		"retries":   0,
		"timeout":   5,
		"params":    map[string]string{"q": "go"},
		"headers":   map[string]string{"X-A": "1"},
		"use_cache": true,
		"no_proxy":  true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[fetchResponse](t, w)

	task, err := s.GetTask(context.Background(), resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, types.MethodPost, task.Spec.Method)
	assert.Equal(t, 0, task.Spec.Retries)
	assert.Equal(t, 5, task.Spec.Timeout)
	assert.Equal(t, "go", task.Spec.Params["q"])
	assert.True(t, task.Spec.UseCache)
	assert.True(t, task.Spec.NoProxy)
}

func TestFetchValidation(t *testing.T) {
	urls := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = "https://example.com/"
		}
		return out
	}

	cases := []struct {
		name string
		path string
		body map[string]any
	}{
		{"missing url", "/fetch_one", map[string]any{}},
		{"bad url", "/fetch_one", map[string]any{"url": "not a url"}},
		{"unsupported scheme", "/fetch_one", map[string]any{"url": "ftp://example.com/file"}},
		{"bad method", "/fetch_one", map[string]any{"url": "https://example.com", "method": "PUT"}},
		{"zero timeout", "/fetch_one", map[string]any{"url": "https://example.com", "timeout": 0}},
		{"negative timeout", "/fetch_one", map[string]any{"url": "https://example.com", "timeout": -1}},
		{"retries too high", "/fetch_one", map[string]any{"url": "https://example.com", "retries": 100}},
		{"negative retries", "/fetch_one", map[string]any{"url": "https://example.com", "retries": -1}},
		{"empty batch", "/fetch_many", map[string]any{"urls": []string{}}},
		{"oversized batch", "/fetch_many", map[string]any{"urls": urls(3)}},
		{"one bad url in batch", "/fetch_many", map[string]any{"urls": []string{"https://example.com", "nope"}}},
		{"bad method in batch", "/fetch_many", map[string]any{"urls": urls(1), "method": "DELETE"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, s, _ := newTaskFixture(t, 2)
			r := newEngine(svc)

			w := doJSON(t, r, "POST", tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			counts, err := s.CountTasks(context.Background())
			require.NoError(t, err)
			assert.Zero(t, counts[types.TaskStatusNew])
		})
	}
}

func TestFetchManyAndLookups(t *testing.T) {
	svc, s, cs := newTaskFixture(t, 10)
	r := newEngine(svc)
	ctx := context.Background()

	w := doJSON(t, r, http.MethodPost, "/fetch_many", map[string]any{
		"urls": []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	created := decode[[]fetchResponse](t, w)
	require.Len(t, created, 3)
	assert.Equal(t, "https://example.com/2", created[1].URL)

	// 单个查询
	w = doJSON(t, r, http.MethodGet, "/get_task/"+created[0].TaskID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	task := decode[types.Task](t, w)
	assert.Equal(t, created[0].TaskID, task.ID)
	assert.Equal(t, types.TaskStatusNew, task.Status)

	w = doJSON(t, r, http.MethodGet, "/get_task/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 批量查询忽略不存在的 ID
	w = doJSON(t, r, http.MethodPost, "/get_tasks", map[string]any{"ids": []string{created[0].TaskID, "missing", created[2].TaskID}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]types.Task](t, w), 2)

	w = doJSON(t, r, http.MethodPost, "/get_tasks", map[string]any{"ids": []string{"missing"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 完成一个任务后按状态列出
	claimed, err := s.ClaimTasks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, cs.Put(ctx, claimed[0].ID, []byte("hello")))
	require.NoError(t, s.CompleteTask(ctx, claimed[0].ID, &types.TaskResult{Status: types.TaskStatusDone, DownloadTime: 0.2, Attempts: 1}))

	w = doJSON(t, r, http.MethodGet, "/tasks?status=DONE", nil)
	require.Equal(t, http.StatusOK, w.Code)
	done := decode[[]types.Task](t, w)
	require.Len(t, done, 1)
	assert.Equal(t, claimed[0].ID, done[0].ID)

	w = doJSON(t, r, http.MethodGet, "/tasks?status=0&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]types.Task](t, w), 2)

	w = doJSON(t, r, http.MethodGet, "/tasks?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 内容下载
	w = doJSON(t, r, http.MethodGet, "/content/"+claimed[0].ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/content/"+created[2].TaskID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestParseTaskStatus(t *testing.T) {
	s, ok := parseTaskStatus("inprogress")
	assert.True(t, ok)
	assert.Equal(t, types.TaskStatusInProgress, s)

	s, ok = parseTaskStatus("3")
	assert.True(t, ok)
	assert.Equal(t, types.TaskStatusError, s)

	_, ok = parseTaskStatus("7")
	assert.False(t, ok)
}
