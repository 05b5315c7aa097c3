// Command signalr-chat is a minimal REPL-style client: it connects to a
// SignalR hub, prints every "ReceiveMessage" invocation it receives, and
// sends whatever the user types as a "SendMessage" invocation.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/technobecet/signalr-go"
	"github.com/technobecet/signalr-go/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "signalr-chat: load config: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("signalr-chat: exited with error")
		os.Exit(1)
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	connTimeout, err := time.ParseDuration(cfg.Hub.ConnectionTimeout)
	if err != nil {
		connTimeout = 10 * time.Second
	}

	opts := []signalr.Option{
		signalr.WithConnectionTimeout(connTimeout),
		signalr.WithSkipNegotiation(cfg.Hub.SkipNegotiation),
		signalr.WithLogger(signalr.NewZerologLogger(log.Logger)),
	}
	if cfg.Hub.Protocol == "messagepack" {
		opts = append(opts, signalr.WithProtocol(signalr.NewMessagePackProtocol()))
	}
	if cfg.Hub.AccessToken != "" {
		token := cfg.Hub.AccessToken
		opts = append(opts, signalr.WithAccessTokenFactory(func() (string, error) {
			return token, nil
		}))
	}

	client := signalr.New(cfg.Hub.URL, opts...)

	client.OnOpen(func() {
		log.Info().Str("url", cfg.Hub.URL).Msg("connected")
	})
	client.OnClose(func() {
		log.Warn().Msg("disconnected")
	})
	client.On("ReceiveMessage", func(args []json.RawMessage) (interface{}, bool) {
		var user, message string
		if len(args) >= 2 {
			_ = json.Unmarshal(args[0], &user)
			_ = json.Unmarshal(args[1], &message)
		}
		fmt.Printf("%s: %s\n", user, message)
		return nil, false
	})

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- client.Run(runCtx)
	}()

	go readStdinLoop(runCtx, client)

	select {
	case <-ctx.Done():
		runCancel()
		<-runErrCh
		return nil
	case err := <-runErrCh:
		return err
	}
}

func readStdinLoop(ctx context.Context, client *signalr.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := scanner.Text()
		if text == "" {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Send(sendCtx, "SendMessage", []interface{}{"cli", text}, nil)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("send failed")
		}
	}
}
