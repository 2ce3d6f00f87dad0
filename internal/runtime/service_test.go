package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/taskgate/internal/core/domain"
	"github.com/tjfontaine/taskgate/internal/core/ports"
	"github.com/tjfontaine/taskgate/internal/hooks"
	"github.com/tjfontaine/taskgate/internal/pkg/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

// policyServer denies task.complete and allows everything else.
func policyServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get(hooks.HeaderEvent) == domain.GateEventTaskComplete {
			_, _ = w.Write([]byte(`{"allow":false,"reason":"Missing QA sign-off"}`))
			return
		}
		_, _ = w.Write([]byte(`{"allow":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func baseConfig(hookURL string) *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Type: "memory"},
		Lock:    config.LockConfig{Type: "memory"},
		Hooks: config.HooksConfig{
			MaxConcurrency:       4,
			FailureThreshold:     10,
			AllowPrivateNetworks: true,
		},
		Seed: config.SeedConfig{
			Hooks: []config.HookSeed{{
				ID: "qa", OrgID: "org-1", Name: "qa-gate", URL: hookURL,
				Events: []string{domain.GateEventTaskComplete, domain.GateEventTaskTransition},
				HookType: "pre", CanBlock: true, TimeoutMs: 2000,
			}},
			Tasks: []config.TaskSeed{
				{ID: "task-1", OrgID: "org-1", Identifier: "ENG-1", Title: "gate me", Status: "review", AssigneeID: "agent-1"},
				{ID: "task-2", OrgID: "org-1", Identifier: "ENG-2", Title: "dep", Status: "todo"},
			},
			Dependencies: []config.DependencySeed{
				{TaskID: "task-1", DependsOnID: "task-2", NonBlocking: true},
			},
		},
	}
}

func startService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithListener(listen(t))}, opts...)
	svc, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

func TestService_New_RequiresConfig(t *testing.T) {
	_, err := New()
	if err == nil {
		t.Fatal("Expected error without config provider")
	}
	if err.Error() != "config provider required (use WithFileConfig or WithConfig)" {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestService_CompletionRejectedEndToEnd(t *testing.T) {
	policy := policyServer(t)
	svc := startService(t, WithConfig(baseConfig(policy.URL)))

	var mu sync.Mutex
	var topics []string
	svc.Subscribe(domain.EventTaskCompletionRejected, func(ctx context.Context, n *domain.Notification) {
		mu.Lock()
		defer mu.Unlock()
		topics = append(topics, n.Topic)
	})

	body, _ := json.Marshal(map[string]string{"status": "done"})
	req, _ := http.NewRequest(http.MethodPost, "http://"+svc.Addr()+"/v1/orgs/org-1/tasks/task-1/transitions", bytes.NewReader(body))
	req.Header.Set("X-Actor-ID", "user-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST transition: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d body=%s", resp.StatusCode, b)
	}

	var out struct {
		Task               domain.Task `json:"task"`
		CompletionRejected bool        `json:"completion_rejected"`
		RejectionFeedback  string      `json:"rejection_feedback"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.CompletionRejected || out.RejectionFeedback != "Missing QA sign-off" {
		t.Errorf("response = %+v", out)
	}
	if out.Task.Status != domain.TaskStatusReview || out.Task.RejectionCount() != 1 {
		t.Errorf("task = %+v", out.Task)
	}

	events, err := svc.Storage().ListEvents(context.Background(), ports.EventListOptions{OrgID: "org-1"})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	joined := strings.Join(types, ",")
	if strings.Count(joined, domain.EventWebhookExecuted) != 2 || !strings.Contains(joined, domain.EventTaskCompletionRejected) {
		t.Errorf("event types = %v", types)
	}
	if strings.Contains(joined, domain.EventTaskTransitioned) {
		t.Errorf("rejected completion must not emit %s: %v", domain.EventTaskTransitioned, types)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(topics) != 1 {
		t.Errorf("notifications = %v", topics)
	}
}

func TestService_SeedIsIdempotent(t *testing.T) {
	policy := policyServer(t)
	cfg := baseConfig(policy.URL)
	svc := startService(t, WithConfig(cfg))
	ctx := context.Background()

	task, err := svc.Storage().GetTask(ctx, "org-1", "task-2")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	task.Status = domain.TaskStatusInProgress
	if err := svc.Storage().SaveTask(ctx, task); err != nil {
		t.Fatalf("SaveTask() error = %v", err)
	}

	if err := svc.seed(ctx, cfg.Seed); err != nil {
		t.Fatalf("seed() error = %v", err)
	}

	got, err := svc.Storage().GetTask(ctx, "org-1", "task-2")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Status != domain.TaskStatusInProgress {
		t.Errorf("reseed overwrote task status: %s", got.Status)
	}

	hook, err := svc.Storage().GetHook(ctx, "qa")
	if err != nil {
		t.Fatalf("GetHook() error = %v", err)
	}
	if hook.TimeoutMs != 2000 || !hook.Enabled || hook.HookType != domain.HookTypePre {
		t.Errorf("seeded hook = %+v", hook)
	}

	deps, err := svc.Storage().ListBlocking(ctx, "task-1")
	if err != nil {
		t.Fatalf("ListBlocking() error = %v", err)
	}
	if len(deps) != 0 {
		t.Errorf("non-blocking seed produced blocking deps: %+v", deps)
	}
}

func TestService_StartRejectsUnsafeSeedHook(t *testing.T) {
	cfg := baseConfig("http://127.0.0.1:9/hook")
	cfg.Hooks.AllowPrivateNetworks = false

	svc, err := New(WithConfig(cfg), WithLogger(quietLogger()), WithListener(listen(t)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = svc.Start(context.Background())
	if err == nil {
		_ = svc.Shutdown(context.Background())
		t.Fatal("expected Start to reject a loopback hook URL")
	}
	if !strings.Contains(err.Error(), "hook qa") {
		t.Errorf("error = %v", err)
	}
}

func TestService_Reload(t *testing.T) {
	policy := policyServer(t)
	cfg := baseConfig(policy.URL)
	svc := startService(t, WithConfig(cfg))

	next := baseConfig(policy.URL)
	next.Hooks.FailureThreshold = 3
	next.Seed.Hooks = append(next.Seed.Hooks, config.HookSeed{
		ID: "audit", OrgID: "org-1", URL: policy.URL, Events: []string{"*"},
	})

	if err := svc.reload(next); err != nil {
		t.Fatalf("reload() error = %v", err)
	}
	if got := svc.Engine().FailureThreshold(); got != 3 {
		t.Errorf("FailureThreshold() = %d, want 3", got)
	}
	hook, err := svc.Storage().GetHook(context.Background(), "audit")
	if err != nil {
		t.Fatalf("GetHook(audit) error = %v", err)
	}
	if hook.HookType != domain.HookTypePost || hook.TimeoutMs != domain.DefaultHookTimeoutMs {
		t.Errorf("audit hook defaults = %+v", hook)
	}
}

func TestService_FileConfigHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	write := func(threshold int) {
		body := "storage:\n  type: memory\nhooks:\n  failure_threshold: " + strconv.Itoa(threshold) + "\n"
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write(7)

	svc := startService(t, WithFileConfig(path))
	if got := svc.Engine().FailureThreshold(); got != 7 {
		t.Fatalf("FailureThreshold() = %d, want 7", got)
	}

	write(2)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if svc.Engine().FailureThreshold() == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("FailureThreshold() = %d after file change, want 2", svc.Engine().FailureThreshold())
}

func TestTaskFromSeed(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	task, err := taskFromSeed(config.TaskSeed{ID: "t", OrgID: "o", Title: "x", DueDate: "2026-02-01T00:00:00+02:00"}, now)
	if err != nil {
		t.Fatalf("taskFromSeed() error = %v", err)
	}
	if task.Status != domain.TaskStatusBacklog || task.Priority != domain.TaskPriorityNormal {
		t.Errorf("defaults = %s/%s", task.Status, task.Priority)
	}
	if task.DueDate == nil || !task.DueDate.Equal(time.Date(2026, 1, 31, 22, 0, 0, 0, time.UTC)) {
		t.Errorf("DueDate = %v", task.DueDate)
	}

	bad := []config.TaskSeed{
		{OrgID: "o", Title: "x"},
		{ID: "t", OrgID: "o", Title: "x", Status: "archived"},
		{ID: "t", OrgID: "o", Title: "x", DueDate: "tomorrow"},
	}
	for _, ts := range bad {
		if _, err := taskFromSeed(ts, now); err == nil {
			t.Errorf("taskFromSeed(%+v) expected error", ts)
		}
	}
}

func TestService_PostHooksReceiveNotifications(t *testing.T) {
	policy := policyServer(t)

	type delivery struct {
		event    string
		verified bool
		data     map[string]any
	}
	var mu sync.Mutex
	var got []delivery
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p hooks.Payload
		_ = json.Unmarshal(body, &p)
		mu.Lock()
		got = append(got, delivery{
			event:    r.Header.Get(hooks.HeaderEvent),
			verified: hooks.Verify("whsec_audit", body, r.Header.Get(hooks.HeaderSignature)),
			data:     p.Data,
		})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(receiver.Close)

	cfg := baseConfig(policy.URL)
	cfg.Seed.Hooks = append(cfg.Seed.Hooks, config.HookSeed{
		ID: "audit", OrgID: "org-1", Name: "audit-log", URL: receiver.URL, Secret: "whsec_audit",
		Events:   []string{domain.EventTaskTransitioned, domain.EventWebhookExecuted},
		HookType: "post", TimeoutMs: 2000,
	})
	svc := startService(t, WithConfig(cfg))

	body, _ := json.Marshal(map[string]string{"status": "in_progress"})
	req, _ := http.NewRequest(http.MethodPost, "http://"+svc.Addr()+"/v1/orgs/org-1/tasks/task-2/transitions", bytes.NewReader(body))
	req.Header.Set("X-Actor-ID", "user-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST transition: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	byEvent := map[string]delivery{}
	for _, d := range got {
		if !d.verified {
			t.Errorf("%s delivery has an invalid signature", d.event)
		}
		byEvent[d.event] = d
	}
	count := len(got)
	mu.Unlock()
	if count != 2 {
		t.Fatalf("deliveries = %+v, want one per subscribed event", byEvent)
	}
	transitioned, ok := byEvent[domain.EventTaskTransitioned]
	if !ok || transitioned.data["taskId"] != "task-2" || transitioned.data["toStatus"] != "in_progress" {
		t.Errorf("task.transitioned delivery = %+v", transitioned)
	}
	executed, ok := byEvent[domain.EventWebhookExecuted]
	if !ok || executed.data["webhookId"] != "qa" || executed.data["eventType"] != domain.GateEventTaskTransition {
		t.Errorf("webhook.executed delivery = %+v", executed)
	}

	// Bookkeeping is written once the receiver has answered.
	var hook *domain.Hook
	for {
		hook, err = svc.Storage().GetHook(context.Background(), "audit")
		if err != nil {
			t.Fatalf("GetHook() error = %v", err)
		}
		if hook.LastTriggeredAt != nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if hook.FailureCount != 0 || hook.LastTriggeredAt == nil {
		t.Errorf("audit hook bookkeeping = count %d triggered %v", hook.FailureCount, hook.LastTriggeredAt)
	}
}
