package sentinel

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vsagcr/scopeprep/internal/testutils"
)

func TestPayloadRoundTrip(t *testing.T) {
	raw, err := renderPayload(Payload{
		State:       payloadState,
		RunID:       "9f2c7dd4-0000-4000-8000-8e3a41b5c000",
		RequestedAt: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("renderPayload failed: %v", err)
	}

	p, err := parsePayload(raw)
	if err != nil {
		t.Fatalf("parsePayload failed: %v", err)
	}
	if p.RunID != "9f2c7dd4-0000-4000-8000-8e3a41b5c000" {
		t.Errorf("unexpected run id: %q", p.RunID)
	}
	if !p.RequestedAt.Equal(time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)) {
		t.Errorf("unexpected timestamp: %s", p.RequestedAt)
	}
}

func TestParsePayloadRejectsUnexpectedState(t *testing.T) {
	if _, err := parsePayload("state: shutdown_pending\n"); err == nil {
		t.Fatal("expected error for unexpected state")
	}
}

func TestTake(t *testing.T) {
	ctx := context.Background()

	t.Run("no sentinel", func(t *testing.T) {
		srv := &testutils.FakeServer{
			Handler: func(cmd string) (string, error) {
				return missingMarker, nil
			},
		}

		state, payload, err := Take(ctx, srv, ".scopeprep-reboot")
		if err != nil {
			t.Fatalf("Take failed: %v", err)
		}
		if state != StateNone {
			t.Fatalf("expected StateNone, got %s", state)
		}
		if payload != nil {
			t.Fatalf("expected nil payload, got %+v", payload)
		}
	})

	t.Run("pending sentinel", func(t *testing.T) {
		srv := &testutils.FakeServer{
			Handler: func(cmd string) (string, error) {
				return "state: reboot_pending\nrun_id: abc-123\nrequested_at: 2026-03-14T09:26:53Z\n", nil
			},
		}

		state, payload, err := Take(ctx, srv, ".scopeprep-reboot")
		if err != nil {
			t.Fatalf("Take failed: %v", err)
		}
		if state != StateRebootPending {
			t.Fatalf("expected StateRebootPending, got %s", state)
		}
		if payload == nil || payload.RunID != "abc-123" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
	})

	t.Run("corrupt sentinel", func(t *testing.T) {
		srv := &testutils.FakeServer{
			Handler: func(cmd string) (string, error) {
				return ": not yaml {", nil
			},
		}

		if _, _, err := Take(ctx, srv, ".scopeprep-reboot"); err == nil {
			t.Fatal("expected error for corrupt payload")
		}
	})

	t.Run("read and clear in a single command", func(t *testing.T) {
		srv := &testutils.FakeServer{
			Handler: func(cmd string) (string, error) {
				return missingMarker, nil
			},
		}

		if _, _, err := Take(ctx, srv, ".scopeprep-reboot"); err != nil {
			t.Fatalf("Take failed: %v", err)
		}

		cmds := srv.Commands()
		if len(cmds) != 1 {
			t.Fatalf("expected a single remote command, got %d", len(cmds))
		}
		if !strings.Contains(cmds[0], "rm -f") || !strings.Contains(cmds[0], "cat") {
			t.Fatalf("expected combined read+clear command, got: %s", cmds[0])
		}
	})
}

func TestMark(t *testing.T) {
	srv := &testutils.FakeServer{}

	if err := Mark(context.Background(), srv, ".scopeprep-reboot", "run-42"); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	cmds := srv.Commands()
	if len(cmds) != 1 {
		t.Fatalf("expected a single remote command, got %d", len(cmds))
	}
	cmd := cmds[0]
	if !strings.Contains(cmd, ".scopeprep-reboot") {
		t.Errorf("expected sentinel path in command, got: %s", cmd)
	}
	if !strings.Contains(cmd, "umask 077") {
		t.Errorf("expected restrictive umask in command, got: %s", cmd)
	}
	if !strings.Contains(cmd, "reboot_pending") {
		t.Errorf("expected payload state in command, got: %s", cmd)
	}
	if !strings.Contains(cmd, "run-42") {
		t.Errorf("expected run id in payload, got: %s", cmd)
	}
}
