// Package recruitment parses recruitment command flags and runs one
// operation against the configured store.
package recruitment

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	entrypoint "github.com/gwtt/dagachi/internal/platform/cmd"
	apperrors "github.com/gwtt/dagachi/internal/platform/errors"
	"github.com/gwtt/dagachi/internal/platform/i18n/catalog"
	"github.com/gwtt/dagachi/internal/services/recruitment/app"
	"github.com/gwtt/dagachi/internal/services/recruitment/domain"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"
)

// Config holds recruitment command configuration.
type Config struct {
	app.Config
	Locale string `env:"DAGACHI_LOCALE" envDefault:"en-US"`

	Command string
	Args    []string
}

// ErrUsage reports a missing or unknown command, or bad command flags.
var ErrUsage = errors.New("usage error")

// ParseConfig parses environment and global flags into Config. The first
// positional argument names the command; the rest are its flags.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Driver, "driver", cfg.Driver, "Storage driver: sqlite, postgres or memory")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.PostgresDSN, "dsn", cfg.PostgresDSN, "Postgres connection string")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "Locale for error messages")
	fs.UintVar(&cfg.Retries, "retries", cfg.Retries, "Attempts for mutations that hit lock contention")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, fmt.Errorf("%w: command is required (one of %s)", ErrUsage, strings.Join(commandNames(), ", "))
	}
	cfg.Command = rest[0]
	cfg.Args = rest[1:]
	return cfg, nil
}

// Run executes the configured command and writes its JSON result to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	command, ok := commands[cfg.Command]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cfg.Command)
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRecruitment, func(ctx context.Context) error {
		runtime, err := app.Open(ctx, cfg.Config)
		if err != nil {
			return err
		}
		defer func() { _ = runtime.Close() }()

		e := env{
			runtime: runtime,
			policy:  app.DefaultRetryPolicy(cfg.Normalize().Retries),
			locale:  cfg.Locale,
		}
		result, err := command(ctx, e, cfg.Args)
		if err != nil {
			return err
		}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	})
}

// FormatError renders err for a terminal. Recruitment errors carry their
// code, gRPC status and the message localized for locale.
func FormatError(err error, locale string) string {
	if err == nil {
		return ""
	}
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) {
		return err.Error()
	}
	st := status.Convert(apperrors.GRPCStatus(err, locale))
	message := st.Message()
	for _, detail := range st.Details() {
		if localized, ok := detail.(*errdetails.LocalizedMessage); ok && localized.GetMessage() != "" {
			message = localized.GetMessage()
		}
	}
	return fmt.Sprintf("%s (%s): %s", domainErr.Code, st.Code(), message)
}

type env struct {
	runtime *app.Runtime
	policy  app.RetryPolicy
	locale  string
}

// label returns the display name of a status in the core namespace, or key
// when the catalog has none.
func (e env) label(key string) string {
	bundle := catalog.Default()
	_, messages := bundle.NamespaceMessagesWithFallback(bundle.Match(e.locale), "core")
	if label, ok := messages[key]; ok {
		return label
	}
	return key
}

func participationLabelKey(status domain.ParticipationStatus) string {
	if status == domain.NotParticipating {
		return "core.participation.status.none"
	}
	return "core.participation.status." + strings.ToLower(string(status))
}

type command func(ctx context.Context, e env, args []string) (any, error)

var commands = map[string]command{
	"user-add":         runUserAdd,
	"posting-create":   runPostingCreate,
	"posting-complete": runPostingComplete,
	"posting-get":      runPostingGet,
	"join":             runJoin,
	"leave":            runLeave,
	"approve":          runApprove,
	"reject":           runReject,
	"status":           runStatus,
	"list":             runList,
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// parseFlags parses args into fs and checks that every required flag has a
// value.
func parseFlags(fs *flag.FlagSet, args []string, required ...string) error {
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUsage, fs.Name(), err)
	}
	for _, name := range required {
		if strings.TrimSpace(fs.Lookup(name).Value.String()) == "" {
			return fmt.Errorf("%w: %s: -%s is required", ErrUsage, fs.Name(), name)
		}
	}
	return nil
}

func runUserAdd(ctx context.Context, e env, args []string) (any, error) {
	fs := flag.NewFlagSet("user-add", flag.ContinueOnError)
	userID := fs.String("id", "", "User id")
	role := fs.String("role", string(domain.RoleUser), "USER or ADMIN")
	if err := parseFlags(fs, args, "id"); err != nil {
		return nil, err
	}
	return e.runtime.Service.RegisterIdentity(ctx, *userID, domain.Role(strings.ToUpper(*role)))
}

func runPostingCreate(ctx context.Context, e env, args []string) (any, error) {
	fs := flag.NewFlagSet("posting-create", flag.ContinueOnError)
	authorID := fs.String("author", "", "Author user id")
	title := fs.String("title", "", "Posting title")
	capacity := fs.Int("capacity", 0, "Maximum approved participants")
	if err := parseFlags(fs, args, "author"); err != nil {
		return nil, err
	}
	return e.runtime.Service.CreatePosting(ctx, *authorID, *title, *capacity)
}

func runPostingComplete(ctx context.Context, e env, args []string) (any, error) {
	fs := flag.NewFlagSet("posting-complete", flag.ContinueOnError)
	actorID := fs.String("actor", "", "Author or admin user id")
	postingID := fs.String("posting", "", "Posting id")
	if err := parseFlags(fs, args, "actor", "posting"); err != nil {
		return nil, err
	}
	return app.RetryTransient(ctx, e.policy, func(ctx context.Context) (domain.Posting, error) {
		return e.runtime.Service.CompletePosting(ctx, *actorID, *postingID)
	})
}

func runPostingGet(ctx context.Context, e env, args []string) (any, error) {
	fs := flag.NewFlagSet("posting-get", flag.ContinueOnError)
	postingID := fs.String("posting", "", "Posting id")
	if err := parseFlags(fs, args, "posting"); err != nil {
		return nil, err
	}
	summary, err := e.runtime.Service.GetPosting(ctx, *postingID)
	if err != nil {
		return nil, err
	}
	return postingView{
		Posting:        summary.Posting,
		StatusLabel:    e.label("core.posting.status." + strings.ToLower(string(summary.Status))),
		ApprovedCount:  summary.ApprovedCount,
		RemainingSeats: summary.RemainingSeats(),
	}, nil
}

type postingView struct {
	domain.Posting
	StatusLabel    string
	ApprovedCount  int
	RemainingSeats int
}

func runJoin(ctx context.Context, e env, args []string) (any, error) {
	fs := flag.NewFlagSet("join", flag.ContinueOnError)
	userID := fs.String("user", "", "Participant user id")
	postingID := fs.String("posting", "", "Posting id")
	if err := parseFlags(fs, args, "user", "posting"); err != nil {
		return nil, err
	}
	return app.RetryTransient(ctx, e.policy, func(ctx context.Context) (domain.Participation, error) {
		return e.runtime.Service.JoinPosting(ctx, *userID, *postingID)
	})
}

func runLeave(ctx context.Context, e env, args []string) (any, error) {
	fs := flag.NewFlagSet("leave", flag.ContinueOnError)
	userID := fs.String("user", "", "Participant user id")
	postingID := fs.String("posting", "", "Posting id")
	if err := parseFlags(fs, args, "user", "posting"); err != nil {
		return nil, err
	}
	_, err := app.RetryTransient(ctx, e.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.runtime.Service.LeavePosting(ctx, *userID, *postingID)
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"PostingID": *postingID,
		"Status":    string(domain.NotParticipating),
		"Label":     e.label(participationLabelKey(domain.NotParticipating)),
	}, nil
}

func runApprove(ctx context.Context, e env, args []string) (any, error) {
	return runDecision(ctx, e, "approve", args)
}

func runReject(ctx context.Context, e env, args []string) (any, error) {
	return runDecision(ctx, e, "reject", args)
}

func runDecision(ctx context.Context, e env, name string, args []string) (any, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	authorID := fs.String("author", "", "Posting author user id")
	participationID := fs.String("participation", "", "Participation id")
	if err := parseFlags(fs, args, "author", "participation"); err != nil {
		return nil, err
	}
	decide := e.runtime.Service.ApproveParticipation
	if name == "reject" {
		decide = e.runtime.Service.RejectParticipation
	}
	decision, err := app.RetryTransient(ctx, e.policy, func(ctx context.Context) (decisionView, error) {
		result, err := decide(ctx, *authorID, *participationID)
		if err != nil {
			return decisionView{}, err
		}
		return decisionView{
			Participation:  result.Participation,
			PostingStatus:  result.Posting.Status,
			PreviousStatus: result.PreviousStatus,
			ApprovedCount:  result.ApprovedCount,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

type decisionView struct {
	Participation  domain.Participation
	PostingStatus  domain.PostingStatus
	PreviousStatus domain.PostingStatus
	ApprovedCount  int
}

func runStatus(ctx context.Context, e env, args []string) (any, error) {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	userID := fs.String("user", "", "Participant user id")
	postingID := fs.String("posting", "", "Posting id")
	if err := parseFlags(fs, args, "user", "posting"); err != nil {
		return nil, err
	}
	status, err := e.runtime.Service.GetParticipationStatus(ctx, *userID, *postingID)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"PostingID": *postingID,
		"Status":    string(status),
		"Label":     e.label(participationLabelKey(status)),
	}, nil
}

func runList(ctx context.Context, e env, args []string) (any, error) {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	authorID := fs.String("author", "", "Posting author user id")
	postingID := fs.String("posting", "", "Posting id")
	if err := parseFlags(fs, args, "author", "posting"); err != nil {
		return nil, err
	}
	participations, err := e.runtime.Service.ListParticipations(ctx, *authorID, *postingID)
	if err != nil {
		return nil, err
	}
	if participations == nil {
		participations = []domain.Participation{}
	}
	return participations, nil
}
