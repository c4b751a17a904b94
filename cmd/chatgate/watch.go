package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimbleslab/chatgate/pkg/sessionstate"
	"github.com/nimbleslab/chatgate/pkg/user"
	"github.com/spf13/cobra"
)

var (
	watchServer   string
	watchEmail    string
	watchPassword string
	watchCache    string
	watchInterval time.Duration
)

// watchCmd drives the session store against a running edge server. It
// optionally signs in first, then keeps the local state in sync through
// the session and refresh endpoints until interrupted.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Mirror the session state of a running server",
	Run: func(cmd *cobra.Command, args []string) {
		jar, err := cookiejar.New(nil)
		if err != nil {
			log.Fatal(err)
		}
		client := &http.Client{Jar: jar, Timeout: 15 * time.Second}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if watchEmail != "" {
			if err := signIn(ctx, client, watchEmail, watchPassword); err != nil {
				log.Fatal(err)
			}
			slog.Info("signed in", "email", watchEmail)
		}

		var cache sessionstate.Cache
		if watchCache != "" {
			cache = sessionstate.NewFileCache(watchCache)
		}

		store := sessionstate.New(sessionstate.Options{
			Resolver:        func(ctx context.Context) (*user.User, error) { return fetchUser(ctx, client) },
			Refresher:       func(ctx context.Context) error { return refresh(ctx, client) },
			Cache:           cache,
			RefreshInterval: watchInterval,
		})
		defer store.Close()

		unsubscribe := store.Subscribe(func(state sessionstate.State) {
			if state.User != nil {
				slog.Info("session state", "initialized", state.IsInitialized, "authenticated", state.IsAuthenticated, "user", state.User.Email)
			} else {
				slog.Info("session state", "initialized", state.IsInitialized, "authenticated", state.IsAuthenticated)
			}
		})
		defer unsubscribe()

		store.Init(ctx)
		<-ctx.Done()
	},
}

func signIn(ctx context.Context, client *http.Client, email, password string) error {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, watchServer+"/api/auth/signin", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Code        string `json:"error"`
			Description string `json:"error_description"`
		}
		json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("sign-in failed: %s %s", errBody.Code, errBody.Description)
	}
	return nil
}

func fetchUser(ctx context.Context, client *http.Client) (*user.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, watchServer+"/api/auth/session", nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("session endpoint answered %d", resp.StatusCode)
	}

	var body struct {
		User *user.User `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.User, nil
}

func refresh(ctx context.Context, client *http.Client) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, watchServer+"/api/auth/refresh", nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh endpoint answered %d", resp.StatusCode)
	}
	return nil
}

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", "http://127.0.0.1:8080", "base URL of the edge server")
	watchCmd.Flags().StringVar(&watchEmail, "email", "", "sign in with this email before watching")
	watchCmd.Flags().StringVar(&watchPassword, "password", "", "password for --email")
	watchCmd.Flags().StringVar(&watchCache, "cache", "", "persist the last state to this file")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Minute, "background refresh interval")
	rootCmd.AddCommand(watchCmd)
}
