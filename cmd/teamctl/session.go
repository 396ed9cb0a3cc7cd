package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	apiclient "github.com/splax/teamsync/pkg/api/client"
	"github.com/splax/teamsync/pkg/config"
	"github.com/splax/teamsync/pkg/protocol"
)

const requestTimeout = 15 * time.Second

// cliSession is persisted between invocations.
type cliSession struct {
	APIBaseURL   string    `json:"api_base_url"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
}

func (s cliSession) loggedIn() bool { return strings.TrimSpace(s.AccessToken) != "" }

// expiresSoon leaves a minute of slack so a request never races the expiry.
func (s cliSession) expiresSoon(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.Add(time.Minute).After(s.ExpiresAt)
}

func (s *cliSession) apply(resp protocol.AuthResponse, now time.Time) {
	s.AccessToken = resp.Tokens.AccessToken
	s.RefreshToken = resp.Tokens.RefreshToken
	s.ExpiresAt = now.Add(time.Duration(resp.Tokens.ExpiresIn) * time.Second)
	s.UserID = resp.User.ID
	s.Email = resp.User.Email
	s.Name = resp.User.Name
}

// sessionPath honours TEAMSYNC_CONFIG and otherwise uses the user config dir.
func sessionPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv("TEAMSYNC_CONFIG")); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "teamsync", "config.json"), nil
}

func loadSession() (cliSession, error) {
	var s cliSession
	path, err := sessionPath()
	if err != nil {
		return s, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read session: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode session %s: %w", path, err)
	}
	return s, nil
}

func saveSession(s cliSession) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func resolveAPI(flagValue string, s cliSession) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if s.APIBaseURL != "" {
		return s.APIBaseURL
	}
	return config.LoadClientConfig().APIURL
}

// authorized returns a client and a session with a usable access token,
// refreshing and persisting it first when it is about to expire.
func authorized(ctx context.Context) (*apiclient.Client, cliSession, error) {
	s, err := loadSession()
	if err != nil {
		return nil, s, err
	}
	if !s.loggedIn() {
		return nil, s, errNotLoggedIn
	}
	api, err := apiclient.New(resolveAPI("", s))
	if err != nil {
		return nil, s, err
	}
	if s.expiresSoon(time.Now()) && s.RefreshToken != "" {
		resp, err := api.Refresh(ctx, s.RefreshToken)
		if err != nil {
			if apiclient.StatusOf(err) == http.StatusUnauthorized {
				return nil, s, errNotLoggedIn
			}
			return nil, s, fmt.Errorf("refresh session: %w", err)
		}
		s.apply(resp, time.Now())
		if err := saveSession(s); err != nil {
			return nil, s, err
		}
	}
	return api, s, nil
}

func readPassword(flagValue string) (string, error) {
	if secret := strings.TrimSpace(flagValue); secret != "" {
		return secret, nil
	}
	fmt.Print("Password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}

func commandSignup(args []string) error {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	name := fs.String("name", "", "Display name")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL")
	fs.Parse(args)
	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}
	secret, err := readPassword(*password)
	if err != nil {
		return err
	}
	return authenticate(*apiBase, func(ctx context.Context, api *apiclient.Client) (protocol.AuthResponse, error) {
		return api.Signup(ctx, *email, *name, secret)
	})
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL")
	fs.Parse(args)
	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}
	secret, err := readPassword(*password)
	if err != nil {
		return err
	}
	return authenticate(*apiBase, func(ctx context.Context, api *apiclient.Client) (protocol.AuthResponse, error) {
		return api.Login(ctx, *email, secret)
	})
}

func authenticate(apiBase string, call func(context.Context, *apiclient.Client) (protocol.AuthResponse, error)) error {
	s, _ := loadSession()
	s.APIBaseURL = resolveAPI(apiBase, s)
	api, err := apiclient.New(s.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	resp, err := call(ctx, api)
	if err != nil {
		return err
	}
	s.apply(resp, time.Now())
	if err := saveSession(s); err != nil {
		return err
	}
	fmt.Printf("signed in as %s (%s)\n", s.Email, s.UserID)
	return nil
}

func commandLogout() error {
	s, err := loadSession()
	if err != nil {
		return err
	}
	base := s.APIBaseURL
	if err := saveSession(cliSession{APIBaseURL: base}); err != nil {
		return err
	}
	fmt.Println("signed out")
	return nil
}

func commandWhoami() error {
	s, err := loadSession()
	if err != nil {
		return err
	}
	if !s.loggedIn() {
		return errNotLoggedIn
	}
	fmt.Printf("%s\t%s\t%s\t%s\n", s.UserID, s.Email, s.Name, s.APIBaseURL)
	return nil
}

// describeError turns policy denials into their reason code.
func describeError(err error) string {
	var apiErr apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.Code != "" {
		return fmt.Sprintf("%s (%s)", apiErr.Message, apiErr.Code)
	}
	return err.Error()
}
