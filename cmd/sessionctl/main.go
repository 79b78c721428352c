// Command sessionctl exercises the session engine against a live backend:
// login with anti-sharing validation, session listing, remote termination and
// logout, sharing one persisted credential store across invocations.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/authority"
	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/config"
	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/credentials"
	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/device"
	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/orchestrator"
	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/policy"
	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/storage"
	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/telemetry"
	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/token"
)

const serviceName = "pharmacyhub-session-engine"

func usage() {
	fmt.Fprintf(os.Stderr, `usage: sessionctl <command> [flags]

commands:
  login             authenticate and validate the session
  status            show the restored session state
  sessions          list the account's sessions
  terminate-others  end every other session of the account
  logout            end the session locally and on the backend
`)
	os.Exit(2)
}

// sessionIDRelay breaks the construction cycle between the authority client
// and the policy engine: the client needs a session-id source before the
// engine that provides it exists.
type sessionIDRelay struct{ engine *policy.Engine }

func (r *sessionIDRelay) SessionID() (string, bool) {
	if r.engine == nil {
		return "", false
	}
	return r.engine.SessionID()
}

type app struct {
	cfg    *config.Config
	engine *policy.Engine
	orch   *orchestrator.Orchestrator
	close  func(context.Context)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store := storage.Open(cfg.StoragePath)
	ident := device.NewIdentity(store, cfg.ProductName, cfg.ProductVersion)
	tokens := token.NewStore(store, nil, cfg.RefreshThresholdDuration())

	httpClient := &http.Client{Timeout: cfg.HTTPTimeoutDuration()}

	creds := credentials.NewClient(cfg.AuthBaseURL, tokens)
	creds.SetHTTPClient(httpClient)
	tokens.SetRefresher(creds)

	relay := &sessionIDRelay{}
	authClient := authority.NewClient(cfg.AuthorityBaseURL, tokens, relay)
	authClient.SetHTTPClient(httpClient)

	engine := policy.NewEngine(authClient, ident)
	relay.engine = engine

	provider, shutdown, err := telemetry.NewLoggerProvider(ctx, cfg.OTLPEndpoint, serviceName, false)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	orch := orchestrator.New(creds, tokens, engine, telemetry.NewEventEmitter(provider))
	orch.SetMonitorInterval(cfg.MonitorIntervalDuration())

	return &app{
		cfg:    cfg,
		engine: engine,
		orch:   orch,
		close: func(ctx context.Context) {
			orch.Close()
			if err := shutdown(ctx); err != nil {
				log.Printf("telemetry shutdown: %v", err)
			}
		},
	}, nil
}

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer a.close(context.Background())

	switch os.Args[1] {
	case "login":
		err = a.login(ctx, os.Args[2:])
	case "status":
		err = a.status(ctx)
	case "sessions":
		err = a.sessions(ctx, os.Args[2:])
	case "terminate-others":
		err = a.terminateOthers(ctx)
	case "logout":
		a.orch.Logout(ctx)
		log.Println("logged out")
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email address")
	password := fs.String("password", "", "account password")
	takeover := fs.Bool("terminate-others", false, "on a device-limit rejection, end the other sessions and retry")
	otp := fs.String("otp", "", "one-time code for an OTP challenge")
	fs.Parse(args)
	if *email == "" || *password == "" {
		return fmt.Errorf("-email and -password are required")
	}

	res, err := a.orch.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	if res.Challenged {
		res, err = a.resolve(ctx, res, *takeover, *otp)
		if err != nil {
			return err
		}
	}
	if res.Challenged {
		log.Printf("login held: %s (%s)", res.Status, res.Message)
		os.Exit(1)
	}
	if res.FailOpen {
		log.Println("warning: session validation unavailable, proceeded without it")
	}
	if u := res.User; u != nil {
		log.Printf("logged in as %s (%s)", u.Email, u.ID)
	} else {
		log.Println("logged in")
	}
	return nil
}

func (a *app) resolve(ctx context.Context, res *orchestrator.LoginResult, takeover bool, otp string) (*orchestrator.LoginResult, error) {
	switch res.Status {
	case policy.StatusTooManyDevices:
		if !takeover {
			return res, nil
		}
		log.Println("device limit reached, terminating other sessions")
		return a.orch.ResolveTerminateOthers(ctx)
	case policy.StatusOTPRequired, policy.StatusSuspiciousLocation, policy.StatusNewDevice:
		if otp == "" {
			return res, nil
		}
		return a.orch.VerifyOTP(ctx, otp)
	}
	return res, nil
}

func (a *app) status(ctx context.Context) error {
	user, err := a.orch.Resume(ctx)
	if err != nil {
		return err
	}
	if user == nil {
		log.Println("not logged in")
		return nil
	}
	log.Printf("logged in as %s (%s)", user.Email, user.ID)
	if id, ok := a.engine.SessionID(); ok {
		log.Printf("session %s", id)
	}
	return nil
}

func (a *app) sessions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	activeOnly := fs.Bool("active", false, "only active sessions")
	suspicious := fs.Bool("suspicious", false, "only sessions flagged by the sharing heuristic")
	fs.Parse(args)

	user, err := a.orch.Resume(ctx)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("not logged in")
	}

	f := authority.Filter{UserID: user.ID}
	if *activeOnly {
		active := true
		f.Active = &active
	}
	list, err := a.engine.RefreshSessions(ctx, f)
	if err != nil {
		return err
	}
	if *suspicious {
		list = a.engine.SuspiciousSessions()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}

func (a *app) terminateOthers(ctx context.Context) error {
	user, err := a.orch.Resume(ctx)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("not logged in")
	}

	res, err := a.engine.TerminateOthers(ctx, user.ID)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("backend refused: %s", res.Message)
	}
	log.Println("other sessions terminated")
	return nil
}
