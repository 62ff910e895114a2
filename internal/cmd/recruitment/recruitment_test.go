package recruitment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/gwtt/dagachi/internal/platform/errors"
	"github.com/gwtt/dagachi/internal/platform/otel"
	"github.com/gwtt/dagachi/internal/services/recruitment/app"
)

func TestParseConfigRequiresCommand(t *testing.T) {
	fs := flag.NewFlagSet("recruitment", flag.ContinueOnError)
	_, err := ParseConfig(fs, []string{"-driver", "memory"})
	if !errors.Is(err, ErrUsage) {
		t.Fatalf("error = %v, want usage error", err)
	}
}

func TestParseConfigSplitsCommand(t *testing.T) {
	t.Setenv("DAGACHI_RECRUITMENT_DRIVER", "postgres")
	fs := flag.NewFlagSet("recruitment", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-driver", "sqlite", "-db", "x.db", "-locale", "ko-KR", "join", "-user", "u-1", "-posting", "p-1"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Driver != app.DriverSQLite || cfg.DBPath != "x.db" || cfg.Locale != "ko-KR" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Command != "join" || strings.Join(cfg.Args, " ") != "-user u-1 -posting p-1" {
		t.Fatalf("command = %q args = %v", cfg.Command, cfg.Args)
	}
	if cfg.Retries != 3 {
		t.Fatalf("retries = %d, want env default 3", cfg.Retries)
	}
}

type cli struct {
	t   *testing.T
	cfg Config
}

func newCLI(t *testing.T) cli {
	t.Helper()
	t.Setenv(otel.EndpointVar, "")
	return cli{t: t, cfg: Config{
		Config: app.Config{
			Driver:   app.DriverSQLite,
			DBPath:   filepath.Join(t.TempDir(), "recruitment.db"),
			LogLevel: "error",
			Retries:  2,
		},
		Locale: "en-US",
	}}
}

func (c cli) run(command string, args ...string) ([]byte, error) {
	cfg := c.cfg
	cfg.Command = command
	cfg.Args = args
	var out bytes.Buffer
	err := Run(context.Background(), cfg, &out)
	return out.Bytes(), err
}

func (c cli) must(target any, command string, args ...string) {
	c.t.Helper()
	out, err := c.run(command, args...)
	if err != nil {
		c.t.Fatalf("%s: %v", command, err)
	}
	if target == nil {
		return
	}
	if err := json.Unmarshal(out, target); err != nil {
		c.t.Fatalf("decode %s output %q: %v", command, out, err)
	}
}

func TestCommandsDriveRecruitment(t *testing.T) {
	c := newCLI(t)
	c.must(nil, "user-add", "-id", "author")
	c.must(nil, "user-add", "-id", "alice")
	c.must(nil, "user-add", "-id", "ops", "-role", "admin")

	var posting struct{ ID, Status string }
	c.must(&posting, "posting-create", "-author", "author", "-title", "Climbing", "-capacity", "1")
	if posting.ID == "" || posting.Status != "RECRUITING" {
		t.Fatalf("posting = %+v", posting)
	}

	var participation struct{ ID, Status string }
	c.must(&participation, "join", "-user", "alice", "-posting", posting.ID)
	if participation.Status != "PENDING" {
		t.Fatalf("join status = %s, want PENDING", participation.Status)
	}

	var decision struct {
		PostingStatus  string
		PreviousStatus string
		ApprovedCount  int
	}
	c.must(&decision, "approve", "-author", "author", "-participation", participation.ID)
	if decision.PostingStatus != "RECRUITED" || decision.PreviousStatus != "RECRUITING" || decision.ApprovedCount != 1 {
		t.Fatalf("decision = %+v", decision)
	}

	var status struct{ Status, Label string }
	c.must(&status, "status", "-user", "alice", "-posting", posting.ID)
	if status.Status != "APPROVED" || status.Label != "Approved" {
		t.Fatalf("status = %+v, want APPROVED/Approved", status)
	}

	var summary struct {
		Status         string
		StatusLabel    string
		ApprovedCount  int
		RemainingSeats int
	}
	c.must(&summary, "posting-get", "-posting", posting.ID)
	if summary.Status != "RECRUITED" || summary.StatusLabel != "Recruited" || summary.ApprovedCount != 1 || summary.RemainingSeats != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	var list []struct{ ParticipantID string }
	c.must(&list, "list", "-author", "author", "-posting", posting.ID)
	if len(list) != 1 || list[0].ParticipantID != "alice" {
		t.Fatalf("list = %+v", list)
	}

	_, err := c.run("leave", "-user", "alice", "-posting", posting.ID)
	if apperrors.CodeOf(err) != apperrors.CodeParticipationAlreadyApproved {
		t.Fatalf("leave approved error = %v", err)
	}

	c.must(&posting, "posting-complete", "-actor", "ops", "-posting", posting.ID)
	if posting.Status != "COMPLETED" {
		t.Fatalf("completed status = %s", posting.Status)
	}
}

func TestRunRejectsUnknownCommandAndMissingFlags(t *testing.T) {
	c := newCLI(t)
	if _, err := c.run("explode"); !errors.Is(err, ErrUsage) {
		t.Fatalf("unknown command error = %v", err)
	}
	if _, err := c.run("join", "-user", "alice"); !errors.Is(err, ErrUsage) {
		t.Fatalf("missing flag error = %v", err)
	}
	if _, err := c.run("join", "-bogus"); !errors.Is(err, ErrUsage) {
		t.Fatalf("bad flag error = %v", err)
	}
}

func TestFormatErrorLocalizes(t *testing.T) {
	err := apperrors.WithMetadata(apperrors.CodeParticipationCapacityExceeded, "posting p-1 full",
		map[string]string{"MaxCapacity": "5"})

	got := FormatError(err, "en-US")
	want := "PARTICIPATION_MAX_CAPACITY_EXCEEDED (FailedPrecondition): This posting already has the maximum of 5 approved participants"
	if got != want {
		t.Fatalf("en-US = %q, want %q", got, want)
	}
	if got := FormatError(err, "ko-KR"); !strings.Contains(got, "5명") {
		t.Fatalf("ko-KR = %q, want korean message", got)
	}
	if got := FormatError(errors.New("disk full"), "en-US"); got != "disk full" {
		t.Fatalf("plain error = %q", got)
	}
	if got := FormatError(nil, "en-US"); got != "" {
		t.Fatalf("nil error = %q", got)
	}
}
