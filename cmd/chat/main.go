package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/peterh/liner"

	"chat-core/internal/auth"
	"chat-core/internal/chat"
	"chat-core/internal/config"
	"chat-core/internal/connection"
	"chat-core/internal/dataapi"
	"chat-core/internal/models"
	"chat-core/internal/notify"
	"chat-core/pkg/logger"
)

// linkOpener lets the notification bridge navigate the client it is built for.
type linkOpener struct {
	client *chat.Client
}

func (o *linkOpener) Open(link string) error {
	if o.client == nil {
		return errors.New("client not ready")
	}
	return o.client.OpenLink(link)
}

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}

	api, err := dataapi.New(cfg.APIURL, nil)
	if err != nil {
		logger.Fatal("%v", err)
	}

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()

	register := len(os.Args) > 1 && os.Args[1] == "register"
	resp, err := signIn(line, api, register)
	if err != nil {
		line.Close()
		logger.Fatal("Sign in failed: %v", err)
	}
	identity := resp.User
	if identity.IsZero() {
		if identity, err = auth.IdentityFromToken(resp.Token); err != nil {
			line.Close()
			logger.Fatal("Server returned an unusable token: %v", err)
		}
	}

	terminal := notify.NewTerminalNotifier(os.Stdout)
	opener := &linkOpener{}
	bridge := notify.NewBridge(notify.BellPlayer{W: os.Stdout}, terminal, opener,
		notify.NewFilePreferences(cfg.PreferencesPath))

	dialer := &connection.WSDialer{URL: cfg.WebSocketURL, HandshakeTimeout: cfg.DialTimeout}
	client := chat.New(dialer, api,
		chat.WithNotifications(bridge),
		chat.WithSendTimeout(cfg.SendTimeout),
	)
	opener.client = client

	view := newView(os.Stdout, client)
	view.attach()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bridge.Start(ctx)
	client.Login(ctx, identity, resp.Token)
	fmt.Printf("Signed in as %s. Type /help for commands.\n", identity.DisplayName)

	r := &repl{client: client, terminal: terminal, view: view, out: os.Stdout}
	for {
		var input string
		if text := r.takeRestore(); text != "" {
			input, err = line.PromptWithSuggestion(r.prompt(), text, -1)
		} else {
			input, err = line.Prompt(r.prompt())
		}
		if err != nil {
			// Ctrl+C, Ctrl+D or a closed terminal all end the session.
			break
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if !r.handle(ctx, input) {
			break
		}
	}
	client.Logout()
}

func signIn(line *liner.State, api *dataapi.Client, register bool) (*models.LoginResponse, error) {
	email, err := line.Prompt("email: ")
	if err != nil {
		return nil, err
	}
	password, err := line.PasswordPrompt("password: ")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var resp *models.LoginResponse
	if register {
		name, err := line.Prompt("display name: ")
		if err != nil {
			return nil, err
		}
		resp, err = api.Register(ctx, models.RegisterRequest{
			Email:       strings.TrimSpace(email),
			DisplayName: strings.TrimSpace(name),
			Password:    password,
		})
		if err != nil {
			return nil, err
		}
	} else {
		resp, err = api.Login(ctx, strings.TrimSpace(email), password)
		if err != nil {
			return nil, err
		}
	}
	if resp.Token == "" {
		return nil, errors.New("server returned no token")
	}
	api.SetToken(resp.Token)
	return resp, nil
}
