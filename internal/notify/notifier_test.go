package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/miradorstack/mirador-heal/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingNotifier struct {
	titles     []string
	priorities []Priority
	err        error
}

func (r *recordingNotifier) Notify(ctx context.Context, title, message string, priority Priority, channels []string) error {
	r.titles = append(r.titles, title)
	r.priorities = append(r.priorities, priority)
	return r.err
}

func TestPriorityForSeverity(t *testing.T) {
	cases := []struct {
		severity models.Severity
		want     Priority
	}{
		{models.SeverityCritical, PriorityCritical},
		{models.SeverityHigh, PriorityHigh},
		{models.SeverityMedium, PriorityHigh},
		{models.SeverityLow, PriorityNormal},
	}
	for _, tc := range cases {
		if got := PriorityForSeverity(tc.severity); got != tc.want {
			t.Fatalf("priority(%s) = %s, want %s", tc.severity, got, tc.want)
		}
	}
}

func TestLogNotifierAlwaysSucceeds(t *testing.T) {
	n := NewLogNotifier(testLogger())
	if err := n.Notify(context.Background(), "title", "message", PriorityHigh, []string{"ops"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
}

func TestEscalationCoordinator(t *testing.T) {
	sink := &recordingNotifier{}
	c := NewEscalationCoordinator(testLogger(), sink)

	if !c.TriggerManualRecovery(context.Background(), "cascade", "api") {
		t.Fatal("delivered escalation must report true")
	}
	if len(sink.titles) != 1 || sink.titles[0] != "Manual recovery required: cascade" {
		t.Fatalf("titles = %v", sink.titles)
	}
	if sink.priorities[0] != PriorityCritical {
		t.Fatalf("priority = %s, want critical", sink.priorities[0])
	}

	sink.err = fmt.Errorf("pager down")
	if c.TriggerManualRecovery(context.Background(), "cascade", "api") {
		t.Fatal("failed delivery must report false")
	}
}
