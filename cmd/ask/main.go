// ask streams answers to questions from an askstream relay.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/askstream/internal/auth"
	"github.com/ashureev/askstream/internal/config"
	"github.com/ashureev/askstream/internal/domain"
	"github.com/ashureev/askstream/internal/logging"
	"github.com/ashureev/askstream/internal/poller"
	"github.com/ashureev/askstream/internal/session"
	"github.com/ashureev/askstream/internal/transport"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	socketURL string
	apiURL    string
	token     string
	userID    string
	logFile   string
	logLevel  string
	wait      time.Duration
}

func newRootCmd(in io.Reader, out, errw io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask a question and stream the answer",
		Long: `Ask a question over the relay websocket and print the answer as it streams.

With no arguments, questions are read from stdin one per line.

Configuration is read from the environment (and a .env file) and can be
overridden with flags:

  ASK_WS_URL, ASK_API_URL, ASK_TOKEN, ASK_USER_ID,
  ASK_STALL_TIMEOUT, ASK_POLL_INTERVAL, ASK_POLL_MAX_ATTEMPTS, ASK_LOG_FILE`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)

			logger, closer := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Stdout: errw})
			defer closer.Close()
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger, args, in, out, errw, opts.wait)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.socketURL, "ws", "", "websocket endpoint (overrides ASK_WS_URL)")
	f.StringVar(&opts.apiURL, "api", "", "status API base URL (overrides ASK_API_URL)")
	f.StringVar(&opts.token, "token", "", "credential (overrides ASK_TOKEN)")
	f.StringVar(&opts.userID, "user-id", "", "user id sent with each question")
	f.StringVar(&opts.logFile, "log-file", "", "write logs to a rotated file instead of stderr")
	f.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.DurationVar(&opts.wait, "wait", 2*time.Minute, "maximum time to wait for one answer")

	return cmd
}

// apply copies explicitly set flags over the environment configuration.
func (o *options) apply(cmd *cobra.Command, cfg *config.Client) {
	f := cmd.Flags()
	if f.Changed("ws") {
		cfg.SocketURL = o.socketURL
	}
	if f.Changed("api") {
		cfg.APIURL = o.apiURL
	}
	if f.Changed("token") {
		cfg.Token = o.token
	}
	if f.Changed("user-id") {
		cfg.UserID = o.userID
	}
	if f.Changed("log-file") {
		cfg.LogFile = o.logFile
	}
	if f.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
}

func run(ctx context.Context, cfg *config.Client, logger *slog.Logger, args []string, in io.Reader, out, errw io.Writer, wait time.Duration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	tokens := auth.NewStatic(cfg.Token)
	p := newPrinter(out, errw)
	ctrl := session.New(cfg.Session(), session.Deps{
		Dialer:  transport.NewDialer(cfg.Transport(), logger),
		Fetcher: poller.NewHTTPClient(cfg.APIURL, tokens, nil, logger),
		Tokens:  tokens,
		Logger:  logger,
	}, p)
	defer ctrl.Close()

	if len(args) > 0 {
		return ask(ctx, ctrl, p, strings.Join(args, " "), wait)
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(errw, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(errw)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := ask(ctx, ctrl, p, line, wait); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Keep the prompt alive on answer errors; the printer reported them.
			var derr *domain.Error
			if !errors.As(err, &derr) {
				fmt.Fprintln(errw, "error:", err)
			}
		}
	}
}

// asker is the part of the session controller that ask drives.
type asker interface {
	Submit(question string) (string, error)
	Reset()
	State() session.State
	Current() (domain.Exchange, bool)
}

// errAnswerFailed reports a terminal record whose status is not complete.
var errAnswerFailed = domain.NewError(domain.KindTransport, "the service failed to answer")

// ask submits one question and waits until it is answered or fails.
func ask(ctx context.Context, ctrl asker, p *printer, question string, wait time.Duration) error {
	id, err := ctrl.Submit(question)
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			fmt.Fprintf(p.errw, "error: %s\n", describe(derr))
		}
		return err
	}

	timeout := time.NewTimer(wait)
	defer timeout.Stop()
	for {
		select {
		case o := <-p.done:
			if o.id != id {
				continue
			}
			if o.err != nil {
				return o.err
			}
			// A terminal status that arrives while the poller runs is not final.
			if ctrl.State() != session.StateDone {
				continue
			}
			if ex, ok := ctrl.Current(); ok && ex.ID == id && ex.Status != domain.StatusComplete {
				fmt.Fprintf(p.errw, "error: %s\n", describe(errAnswerFailed))
				return errAnswerFailed
			}
			return nil
		case <-timeout.C:
			ctrl.Reset()
			return fmt.Errorf("no answer within %s", wait)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
