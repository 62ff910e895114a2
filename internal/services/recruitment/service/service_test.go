package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/gwtt/dagachi/internal/platform/errors"
	"github.com/gwtt/dagachi/internal/platform/telemetry/metrics"
	"github.com/gwtt/dagachi/internal/services/recruitment/domain"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage/memory"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var testNow = time.Date(2026, time.March, 9, 9, 0, 0, 0, time.UTC)

type backend interface {
	storage.Store
	storage.IdentityStore
}

type harness struct {
	svc      *Service
	logs     *observer.ObservedLogs
	spans    *tracetest.SpanRecorder
	registry *prometheus.Registry
}

func newHarness(t *testing.T, store backend) harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	registry := prometheus.NewRegistry()
	recorder, err := metrics.NewRecorder(registry)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	svc := New(store, store,
		WithLogger(zap.New(core)),
		WithTracerProvider(provider),
		WithMetrics(recorder),
		WithClock(func() time.Time { return testNow }),
	)
	return harness{svc: svc, logs: logs, spans: spans, registry: registry}
}

func newMemoryHarness(t *testing.T) harness {
	t.Helper()
	return newHarness(t, memory.New(memory.WithLockWait(30*time.Second)))
}

func (h harness) register(t *testing.T, role domain.Role, userIDs ...string) {
	t.Helper()
	for _, userID := range userIDs {
		if _, err := h.svc.RegisterIdentity(context.Background(), userID, role); err != nil {
			t.Fatalf("register %s: %v", userID, err)
		}
	}
}

func (h harness) posting(t *testing.T, authorID string, capacity int) domain.Posting {
	t.Helper()
	posting, err := h.svc.CreatePosting(context.Background(), authorID, "Weekend hike", capacity)
	if err != nil {
		t.Fatalf("create posting: %v", err)
	}
	return posting
}

func (h harness) join(t *testing.T, userID, postingID string) domain.Participation {
	t.Helper()
	participation, err := h.svc.JoinPosting(context.Background(), userID, postingID)
	if err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
	return participation
}

func (h harness) summary(t *testing.T, postingID string) PostingSummary {
	t.Helper()
	summary, err := h.svc.GetPosting(context.Background(), postingID)
	if err != nil {
		t.Fatalf("get posting: %v", err)
	}
	return summary
}

// transitions sums the transition counter for the given edge.
func (h harness) transitions(t *testing.T, from, to string) float64 {
	t.Helper()
	families, err := h.registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, family := range families {
		if family.GetName() != "dagachi_recruitment_posting_transitions_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["from"] == from && labels["to"] == to {
				total += metric.GetCounter().GetValue()
			}
		}
	}
	return total
}

func (h harness) operations(t *testing.T, operation, outcome string) float64 {
	t.Helper()
	families, err := h.registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != "dagachi_recruitment_operations_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["operation"] == operation && labels["outcome"] == outcome {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func requireCode(t *testing.T, err error, want apperrors.Code) {
	t.Helper()
	if got := apperrors.CodeOf(err); err == nil || got != want {
		t.Fatalf("error = %v (code %s), want code %s", err, got, want)
	}
}

// Scenario: many concurrent approvals never overfill a posting.
func runCapacityRace(t *testing.T, h harness, users, capacity int) {
	t.Helper()
	ctx := context.Background()
	h.register(t, domain.RoleUser, "author")
	userIDs := make([]string, users)
	for i := range userIDs {
		userIDs[i] = fmt.Sprintf("user-%04d", i)
	}
	h.register(t, domain.RoleUser, userIDs...)
	posting := h.posting(t, "author", capacity)

	participationIDs := make([]string, users)
	var wg sync.WaitGroup
	joinErrs := make(chan error, users)
	for i, userID := range userIDs {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			participation, err := h.svc.JoinPosting(ctx, userID, posting.ID)
			if err != nil {
				joinErrs <- err
				return
			}
			participationIDs[i] = participation.ID
		}(i, userID)
	}
	wg.Wait()
	close(joinErrs)
	for err := range joinErrs {
		t.Fatalf("join: %v", err)
	}

	var (
		mu        sync.Mutex
		approved  int
		exceeded  int
		unexpects []error
	)
	start := make(chan struct{})
	for _, participationID := range participationIDs {
		wg.Add(1)
		go func(participationID string) {
			defer wg.Done()
			<-start
			_, err := h.svc.ApproveParticipation(ctx, "author", participationID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				approved++
			case apperrors.CodeOf(err) == apperrors.CodeParticipationCapacityExceeded:
				exceeded++
			default:
				unexpects = append(unexpects, err)
			}
		}(participationID)
	}
	close(start)
	wg.Wait()

	if len(unexpects) > 0 {
		t.Fatalf("unexpected approval errors: %v", unexpects)
	}
	if approved != capacity {
		t.Fatalf("approved = %d, want %d", approved, capacity)
	}
	if exceeded != users-capacity {
		t.Fatalf("capacity exceeded = %d, want %d", exceeded, users-capacity)
	}
	summary := h.summary(t, posting.ID)
	if summary.ApprovedCount != capacity {
		t.Fatalf("approved count = %d, want %d", summary.ApprovedCount, capacity)
	}
	if summary.Status != domain.PostingRecruited {
		t.Fatalf("posting status = %s, want %s", summary.Status, domain.PostingRecruited)
	}
	if summary.RemainingSeats() != 0 {
		t.Fatalf("remaining seats = %d, want 0", summary.RemainingSeats())
	}
	if got := h.transitions(t, "RECRUITING", "RECRUITED"); got != 1 {
		t.Fatalf("RECRUITING->RECRUITED transitions = %v, want 1", got)
	}
	if got := h.operations(t, "approve_participation", string(apperrors.KindConflict)); got != float64(users-capacity) {
		t.Fatalf("conflict approvals metric = %v, want %d", got, users-capacity)
	}
}

func TestConcurrentApprovalsRespectCapacity(t *testing.T) {
	runCapacityRace(t, newMemoryHarness(t), 1000, 5)
}

func TestConcurrentApprovalsRespectCapacitySQLite(t *testing.T) {
	if testing.Short() {
		t.Skip("sqlite race in short mode")
	}
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "recruitment.db"), sqlite.WithLockWait(30*time.Second))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	runCapacityRace(t, newHarness(t, store), 40, 3)
}

func TestRejectingApprovedReopensPosting(t *testing.T) {
	h := newMemoryHarness(t)
	ctx := context.Background()
	h.register(t, domain.RoleUser, "author", "a", "b", "c")
	posting := h.posting(t, "author", 2)
	pa := h.join(t, "a", posting.ID)
	pb := h.join(t, "b", posting.ID)
	pc := h.join(t, "c", posting.ID)

	for _, id := range []string{pa.ID, pb.ID} {
		if _, err := h.svc.ApproveParticipation(ctx, "author", id); err != nil {
			t.Fatalf("approve %s: %v", id, err)
		}
	}
	if got := h.summary(t, posting.ID).Status; got != domain.PostingRecruited {
		t.Fatalf("status = %s, want RECRUITED", got)
	}

	decision, err := h.svc.RejectParticipation(ctx, "author", pb.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if decision.PreviousStatus != domain.PostingRecruited || decision.Posting.Status != domain.PostingRecruiting {
		t.Fatalf("reject transition = %s->%s, want RECRUITED->RECRUITING", decision.PreviousStatus, decision.Posting.Status)
	}
	if decision.ApprovedCount != 1 {
		t.Fatalf("approved count after reject = %d, want 1", decision.ApprovedCount)
	}

	decision, err = h.svc.ApproveParticipation(ctx, "author", pc.ID)
	if err != nil {
		t.Fatalf("approve c: %v", err)
	}
	if decision.ApprovedCount != 2 || decision.Posting.Status != domain.PostingRecruited {
		t.Fatalf("after refill = %d/%s, want 2/RECRUITED", decision.ApprovedCount, decision.Posting.Status)
	}
	if got := h.transitions(t, "RECRUITING", "RECRUITED"); got != 2 {
		t.Fatalf("RECRUITING->RECRUITED = %v, want 2", got)
	}
	if got := h.transitions(t, "RECRUITED", "RECRUITING"); got != 1 {
		t.Fatalf("RECRUITED->RECRUITING = %v, want 1", got)
	}

	status, err := h.svc.GetParticipationStatus(ctx, "b", posting.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != domain.ParticipationRejected {
		t.Fatalf("b status = %s, want REJECTED", status)
	}
}

func TestLeavePendingTombstones(t *testing.T) {
	h := newMemoryHarness(t)
	ctx := context.Background()
	h.register(t, domain.RoleUser, "author", "a")
	posting := h.posting(t, "author", 3)
	participation := h.join(t, "a", posting.ID)

	if err := h.svc.LeavePosting(ctx, "a", posting.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	requireCode(t, h.svc.LeavePosting(ctx, "a", posting.ID), apperrors.CodeParticipationNotFound)

	status, err := h.svc.GetParticipationStatus(ctx, "a", posting.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != domain.NotParticipating {
		t.Fatalf("status = %s, want %s", status, domain.NotParticipating)
	}
	_, err = h.svc.ApproveParticipation(ctx, "author", participation.ID)
	requireCode(t, err, apperrors.CodeParticipationNotFound)

	again := h.join(t, "a", posting.ID)
	if again.ID == participation.ID {
		t.Fatal("expected a fresh participation after leaving")
	}
}

func TestLeaveApprovedIsRefused(t *testing.T) {
	h := newMemoryHarness(t)
	ctx := context.Background()
	h.register(t, domain.RoleUser, "author", "a")
	posting := h.posting(t, "author", 3)
	participation := h.join(t, "a", posting.ID)
	if _, err := h.svc.ApproveParticipation(ctx, "author", participation.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	requireCode(t, h.svc.LeavePosting(ctx, "a", posting.ID), apperrors.CodeParticipationAlreadyApproved)

	mine, err := h.svc.GetMyParticipation(ctx, "a", posting.ID)
	if err != nil {
		t.Fatalf("get mine: %v", err)
	}
	if mine.Status != domain.ParticipationApproved {
		t.Fatalf("status = %s, want APPROVED", mine.Status)
	}
	if got := h.summary(t, posting.ID).ApprovedCount; got != 1 {
		t.Fatalf("approved count = %d, want 1", got)
	}
}

func TestRepeatedDecisionsAreRefused(t *testing.T) {
	h := newMemoryHarness(t)
	ctx := context.Background()
	h.register(t, domain.RoleUser, "author", "a", "b")
	posting := h.posting(t, "author", 3)
	pa := h.join(t, "a", posting.ID)
	pb := h.join(t, "b", posting.ID)

	if _, err := h.svc.ApproveParticipation(ctx, "author", pa.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err := h.svc.ApproveParticipation(ctx, "author", pa.ID)
	requireCode(t, err, apperrors.CodeParticipationAlreadyApproved)

	if _, err := h.svc.RejectParticipation(ctx, "author", pb.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	_, err = h.svc.RejectParticipation(ctx, "author", pb.ID)
	requireCode(t, err, apperrors.CodeParticipationAlreadyRejected)

	_, err = h.svc.JoinPosting(ctx, "a", posting.ID)
	requireCode(t, err, apperrors.CodeParticipationAlreadyJoined)
	_, err = h.svc.JoinPosting(ctx, "b", posting.ID)
	requireCode(t, err, apperrors.CodeParticipationAlreadyJoined)

	if got := h.summary(t, posting.ID).ApprovedCount; got != 1 {
		t.Fatalf("approved count = %d, want 1", got)
	}
}

func TestAuthorizationRules(t *testing.T) {
	h := newMemoryHarness(t)
	ctx := context.Background()
	h.register(t, domain.RoleUser, "author", "a", "other")
	posting := h.posting(t, "author", 3)
	participation := h.join(t, "a", posting.ID)

	_, err := h.svc.JoinPosting(ctx, "author", posting.ID)
	requireCode(t, err, apperrors.CodeUserNotAuthorized)

	_, err = h.svc.ApproveParticipation(ctx, "other", participation.ID)
	requireCode(t, err, apperrors.CodePostingNotAuthorized)
	_, err = h.svc.RejectParticipation(ctx, "other", participation.ID)
	requireCode(t, err, apperrors.CodePostingNotAuthorized)

	_, err = h.svc.ListParticipations(ctx, "other", posting.ID)
	requireCode(t, err, apperrors.CodePostingNotAuthorized)

	_, err = h.svc.JoinPosting(ctx, "ghost", posting.ID)
	requireCode(t, err, apperrors.CodeUserNotFound)
	_, err = h.svc.ApproveParticipation(ctx, "ghost", participation.ID)
	requireCode(t, err, apperrors.CodeUserNotFound)
	_, err = h.svc.JoinPosting(ctx, "a", "missing")
	requireCode(t, err, apperrors.CodePostingNotFound)
	_, err = h.svc.ApproveParticipation(ctx, "author", "missing")
	requireCode(t, err, apperrors.CodeParticipationNotFound)

	mine, err := h.svc.GetMyParticipation(ctx, "a", posting.ID)
	if err != nil {
		t.Fatalf("get mine: %v", err)
	}
	if mine.Status != domain.ParticipationPending {
		t.Fatalf("status = %s, want PENDING", mine.Status)
	}
}

// Exactly one of a decision and a withdrawal on the same participation
// takes effect.
func TestDecisionRacesWithdrawal(t *testing.T) {
	decisions := map[string]func(*Service, context.Context, string) error{
		"approve": func(s *Service, ctx context.Context, id string) error {
			_, err := s.ApproveParticipation(ctx, "author", id)
			return err
		},
		"reject": func(s *Service, ctx context.Context, id string) error {
			_, err := s.RejectParticipation(ctx, "author", id)
			return err
		},
	}
	for name, decide := range decisions {
		t.Run(name, func(t *testing.T) {
			for round := 0; round < 20; round++ {
				h := newMemoryHarness(t)
				ctx := context.Background()
				h.register(t, domain.RoleUser, "author", "a")
				posting := h.posting(t, "author", 3)
				participation := h.join(t, "a", posting.ID)

				var wg sync.WaitGroup
				var decideErr, leaveErr error
				start := make(chan struct{})
				wg.Add(2)
				go func() {
					defer wg.Done()
					<-start
					decideErr = decide(h.svc, ctx, participation.ID)
				}()
				go func() {
					defer wg.Done()
					<-start
					leaveErr = h.svc.LeavePosting(ctx, "a", posting.ID)
				}()
				close(start)
				wg.Wait()

				if (decideErr == nil) == (leaveErr == nil) {
					t.Fatalf("round %d: decide err = %v, leave err = %v, want exactly one success", round, decideErr, leaveErr)
				}
				status, err := h.svc.GetParticipationStatus(ctx, "a", posting.ID)
				if err != nil {
					t.Fatalf("status: %v", err)
				}
				if leaveErr == nil && status != domain.NotParticipating {
					t.Fatalf("round %d: status after leave = %s", round, status)
				}
				if decideErr == nil && status == domain.NotParticipating {
					t.Fatalf("round %d: decision won but participation vanished", round)
				}
			}
		})
	}
}

func TestCompletePosting(t *testing.T) {
	h := newMemoryHarness(t)
	ctx := context.Background()
	h.register(t, domain.RoleUser, "author", "a", "b", "other")
	h.register(t, domain.RoleAdmin, "admin")
	posting := h.posting(t, "author", 3)
	pa := h.join(t, "a", posting.ID)

	_, err := h.svc.CompletePosting(ctx, "other", posting.ID)
	requireCode(t, err, apperrors.CodePostingNotAuthorized)

	completed, err := h.svc.CompletePosting(ctx, "admin", posting.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != domain.PostingCompleted {
		t.Fatalf("status = %s, want COMPLETED", completed.Status)
	}
	_, err = h.svc.CompletePosting(ctx, "author", posting.ID)
	requireCode(t, err, apperrors.CodePostingClosed)

	_, err = h.svc.JoinPosting(ctx, "b", posting.ID)
	requireCode(t, err, apperrors.CodePostingClosed)
	_, err = h.svc.ApproveParticipation(ctx, "author", pa.ID)
	requireCode(t, err, apperrors.CodePostingClosed)
	_, err = h.svc.RejectParticipation(ctx, "author", pa.ID)
	requireCode(t, err, apperrors.CodePostingClosed)

	if got := h.transitions(t, "RECRUITING", "COMPLETED"); got != 1 {
		t.Fatalf("RECRUITING->COMPLETED = %v, want 1", got)
	}
}

func TestListParticipationsForAuthor(t *testing.T) {
	h := newMemoryHarness(t)
	ctx := context.Background()
	h.register(t, domain.RoleUser, "author", "a", "b", "c")
	posting := h.posting(t, "author", 3)
	h.join(t, "a", posting.ID)
	h.join(t, "b", posting.ID)
	h.join(t, "c", posting.ID)
	if err := h.svc.LeavePosting(ctx, "c", posting.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}

	list, err := h.svc.ListParticipations(ctx, "author", posting.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list len = %d, want 2", len(list))
	}
	for _, participation := range list {
		if participation.ParticipantID == "c" {
			t.Fatal("withdrawn participation listed")
		}
	}

	status, err := h.svc.GetParticipationStatus(ctx, "author", posting.ID)
	if err != nil {
		t.Fatalf("author status: %v", err)
	}
	if status != domain.NotParticipating {
		t.Fatalf("author status = %s, want %s", status, domain.NotParticipating)
	}
	_, err = h.svc.GetParticipationStatus(ctx, "a", "missing")
	requireCode(t, err, apperrors.CodePostingNotFound)
	_, err = h.svc.GetMyParticipation(ctx, "author", posting.ID)
	requireCode(t, err, apperrors.CodeParticipationNotFound)
}

func TestCreatePostingValidates(t *testing.T) {
	h := newMemoryHarness(t)
	ctx := context.Background()
	h.register(t, domain.RoleUser, "author")

	_, err := h.svc.CreatePosting(ctx, "author", "Trip", 0)
	requireCode(t, err, apperrors.CodePostingInvalidCapacity)
	_, err = h.svc.CreatePosting(ctx, "author", "   ", 2)
	requireCode(t, err, apperrors.CodePostingTitleEmpty)
	_, err = h.svc.CreatePosting(ctx, "ghost", "Trip", 2)
	requireCode(t, err, apperrors.CodeUserNotFound)

	posting := h.posting(t, "author", 2)
	summary := h.summary(t, posting.ID)
	if summary.Status != domain.PostingRecruiting || summary.ApprovedCount != 0 || summary.RemainingSeats() != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if !summary.CreatedAt.Equal(testNow) {
		t.Fatalf("created at = %v, want %v", summary.CreatedAt, testNow)
	}
}

func TestRegisterIdentityValidates(t *testing.T) {
	h := newMemoryHarness(t)
	ctx := context.Background()

	_, err := h.svc.RegisterIdentity(ctx, "  ", domain.RoleUser)
	requireCode(t, err, apperrors.CodeUserInvalid)
	_, err = h.svc.RegisterIdentity(ctx, "x", domain.Role("ROOT"))
	requireCode(t, err, apperrors.CodeUserInvalid)

	identity, err := h.svc.RegisterIdentity(ctx, "x", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if identity.Role != domain.RoleUser {
		t.Fatalf("role = %s, want USER", identity.Role)
	}
}

func TestOperationsAreTracedAndLogged(t *testing.T) {
	h := newMemoryHarness(t)
	ctx := context.Background()
	h.register(t, domain.RoleUser, "author", "a")
	posting := h.posting(t, "author", 1)
	participation := h.join(t, "a", posting.ID)
	if _, err := h.svc.ApproveParticipation(ctx, "author", participation.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, _ = h.svc.JoinPosting(ctx, "author", posting.ID)

	var approveSpan sdktrace.ReadOnlySpan
	for _, span := range h.spans.Ended() {
		if span.Name() == "recruitment.approve_participation" {
			approveSpan = span
		}
	}
	if approveSpan == nil {
		t.Fatal("missing approve span")
	}
	var sawTransition bool
	for _, event := range approveSpan.Events() {
		if event.Name == "posting.transition" {
			sawTransition = true
		}
	}
	if !sawTransition {
		t.Fatal("approve span missing transition event")
	}

	changed := h.logs.FilterMessage("posting status changed").AllUntimed()
	if len(changed) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(changed))
	}
	if got := changed[0].ContextMap()["to"]; got != "RECRUITED" {
		t.Fatalf("transition to = %v, want RECRUITED", got)
	}
	refused := h.logs.FilterMessage("recruitment operation refused").FilterField(
		zap.String("code", string(apperrors.CodeUserNotAuthorized)),
	)
	if refused.Len() != 1 {
		t.Fatalf("refused logs = %d, want 1", refused.Len())
	}
	if got := h.operations(t, "join_posting", string(apperrors.KindUnauthorized)); got != 1 {
		t.Fatalf("unauthorized join metric = %v, want 1", got)
	}
}
