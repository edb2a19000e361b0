package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/gateway"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/refresh"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/session/redisrepo"
	"github.com/jrsteele09/go-auth-client/token"
)

const commandTimeout = 30 * time.Second

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	cfg := config.New()
	if len(args) == 0 {
		usage(cfg.GetAppName())
		return errors.New("missing command")
	}

	app, err := newApp(cfg)
	if err != nil {
		return err
	}

	switch command, rest := args[0], args[1:]; command {
	case "login":
		return app.login(rest)
	case "magic":
		return app.magic(rest)
	case "status":
		return app.status()
	case "call":
		return app.call(rest)
	case "refresh":
		return app.refresh()
	case "verify":
		return app.verify()
	case "logout":
		return app.logout()
	default:
		usage(cfg.GetAppName())
		return fmt.Errorf("unknown command %q", command)
	}
}

// app wires the full client stack for one command invocation.
type app struct {
	config      config.Config
	store       *session.Store
	tokens      *token.Client
	coordinator *refresh.Coordinator
	gateway     *gateway.Client
}

func newApp(cfg config.Config) (*app, error) {
	ctx := context.Background()

	repo, err := newSessionRepo(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := session.New(ctx, repo)

	tokens, err := newTokenClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	coordinator := refresh.New(store, tokens)
	return &app{
		config:      cfg,
		store:       store,
		tokens:      tokens,
		coordinator: coordinator,
		gateway:     gateway.New(store, coordinator),
	}, nil
}

func newSessionRepo(ctx context.Context, cfg config.Config) (session.Repo, error) {
	if redisURL := cfg.GetRedisURL(); redisURL != "" {
		rdb, err := redisrepo.NewClient(ctx, redisURL)
		if err != nil {
			return nil, err
		}
		return redisrepo.New(rdb), nil
	}
	return session.NewFileRepo(cfg.GetSessionFile(), session.WithPassphrase(cfg.GetSessionPassphrase()))
}

func newTokenClient(ctx context.Context, cfg config.Config) (*token.Client, error) {
	timeout := token.WithTimeout(cfg.GetRequestTimeout())
	if issuerURL := cfg.GetIssuerURL(); issuerURL != "" {
		return token.NewFromIssuer(ctx, issuerURL, timeout)
	}
	return token.New(cfg.GetBaseURL(), timeout)
}

func (a *app) login(args []string) error {
	flags := flag.NewFlagSet("login", flag.ContinueOnError)
	username := flags.String("u", "", "username")
	password := flags.String("p", "", "password (prompted when omitted)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("login requires -u <username>")
	}
	if *password == "" {
		prompted, err := promptSecret("Password: ")
		if err != nil {
			return err
		}
		*password = prompted
	}

	ctx, cancel := commandContext()
	defer cancel()

	grant, err := a.tokens.ObtainPair(ctx, *username, *password)
	if err != nil {
		return err
	}

	user := grant.User
	if user == nil {
		user = &session.User{ID: *username, Username: *username}
	}
	a.store.Login(ctx, user, grant.AccessToken, grant.RefreshToken)
	fmt.Printf("Logged in as %s\n", user.Username)
	return nil
}

func (a *app) magic(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: authctl magic request <email> | authctl magic verify <token>")
	}

	ctx, cancel := commandContext()
	defer cancel()

	switch args[0] {
	case "request":
		if err := a.tokens.RequestMagicLink(ctx, args[1]); err != nil {
			return err
		}
		fmt.Println("Magic link sent, check your inbox")
		return nil
	case "verify":
		grant, err := a.tokens.VerifyMagicLink(ctx, args[1])
		if err != nil {
			return err
		}
		if grant.User == nil {
			return errors.New("sign-in response did not include a user profile")
		}
		a.store.Login(ctx, grant.User, grant.AccessToken, grant.RefreshToken)
		fmt.Printf("Logged in as %s\n", grant.User.Username)
		return nil
	default:
		return fmt.Errorf("unknown magic subcommand %q", args[0])
	}
}

func (a *app) status() error {
	snapshot := a.store.Current()
	if !snapshot.Authenticated() {
		fmt.Println("Not logged in")
		return nil
	}

	fmt.Printf("Logged in as  %s\n", snapshot.User.Username)
	if snapshot.User.Email != "" {
		fmt.Printf("Email         %s\n", snapshot.User.Email)
	}
	fmt.Printf("Session saved %s\n", snapshot.SavedAt.Format(time.RFC3339))
	return nil
}

func (a *app) call(args []string) error {
	flags := flag.NewFlagSet("call", flag.ContinueOnError)
	method := flags.String("X", http.MethodGet, "HTTP method")
	body := flags.String("d", "", "request body")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: authctl call [-X method] [-d body] <url>")
	}

	ctx, cancel := commandContext()
	defer cancel()

	request := gateway.Request{Method: *method, URL: flags.Arg(0)}
	if *body != "" {
		request.Body = []byte(*body)
		request.Header = http.Header{"Content-Type": []string{"application/json"}}
	}

	resp, err := a.gateway.Send(ctx, request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	fmt.Println(resp.Status)
	if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
		return err
	}
	fmt.Println()
	return nil
}

func (a *app) refresh() error {
	ctx, cancel := commandContext()
	defer cancel()

	if _, err := a.coordinator.Refresh(ctx); err != nil {
		return err
	}
	fmt.Println("Access token refreshed")
	return nil
}

func (a *app) verify() error {
	snapshot := a.store.Current()
	if !snapshot.Authenticated() {
		return errors.New("not logged in")
	}

	ctx, cancel := commandContext()
	defer cancel()

	if err := a.tokens.Verify(ctx, snapshot.AccessToken); err != nil {
		return err
	}
	fmt.Println("Access token is valid")
	return nil
}

// logout revokes the refresh token upstream when possible, but the local
// session is cleared regardless: logging out must not depend on the network.
func (a *app) logout() error {
	ctx, cancel := commandContext()
	defer cancel()

	snapshot := a.store.Current()
	if snapshot.RefreshToken != "" {
		if err := a.tokens.Blacklist(ctx, snapshot.RefreshToken); err != nil {
			log.Warn().Err(err).Msg("Server-side revocation failed, clearing local session anyway")
		}
	}
	a.store.Logout(ctx)
	fmt.Println("Logged out")
	return nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout)
}

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func usage(appname string) {
	displayAppname(appname)
	fmt.Println(`Usage: authctl <command> [flags]

Commands:
  login -u <username> [-p <password>]   authenticate and persist the session
  magic request <email>                 request a magic sign-in link
  magic verify <token>                  complete a magic-link sign-in
  status                                show the current session
  call [-X method] [-d body] <url>      call an API with transparent refresh
  refresh                               force an access token refresh
  verify                                check the access token upstream
  logout                                revoke and clear the session`)
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
