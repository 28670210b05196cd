package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"github.com/webitel/roster-push-service/infra/logging"
	"github.com/webitel/roster-push-service/pkg/protocol"
	"github.com/webitel/roster-push-service/pkg/pushclient"
	"golang.org/x/sync/errgroup"
)

func listenCmd() *cli.Command {
	return &cli.Command{
		Name:  "listen",
		Usage: "Run a resilient client and print every delivered event as a JSON line",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080/v1/stream", Usage: "Stream URL (http(s) for SSE, ws(s) for WebSocket)"},
			&cli.StringFlag{Name: "transport", Value: "sse", Usage: "sse or ws"},
			&cli.StringFlag{Name: "token", Usage: "Bearer token", EnvVars: []string{"ROSTER_PUSH_TOKEN"}, Required: true},
			&cli.DurationFlag{Name: "heartbeat_timeout", Value: pushclient.DefaultHeartbeatTimeout},
			&cli.IntFlag{Name: "max_attempts", Value: pushclient.DefaultMaxAttempts, Usage: "Reconnect budget, 0 retries forever"},
			&cli.StringFlag{Name: "log_level", Value: "info"},
		},
		Action: func(c *cli.Context) error {
			lv := new(slog.LevelVar)
			if err := lv.UnmarshalText([]byte(c.String("log_level"))); err != nil {
				return err
			}
			logger := logging.New(os.Stderr, "text", lv)

			var dialer pushclient.Dialer
			switch c.String("transport") {
			case "sse":
				dialer = &pushclient.SSEDialer{URL: c.String("url")}
			case "ws":
				dialer = &pushclient.WSDialer{URL: c.String("url")}
			default:
				return fmt.Errorf("unknown transport %q", c.String("transport"))
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			fatal := make(chan error, 1)

			ids := pushclient.NewStaticIdentity()
			engine := pushclient.New(dialer, ids,
				pushclient.WithLogger(logger),
				pushclient.WithHeartbeatTimeout(c.Duration("heartbeat_timeout")),
				pushclient.WithBackoff(pushclient.DefaultBaseDelay, pushclient.DefaultMaxDelay),
				pushclient.WithMaxAttempts(c.Int("max_attempts")),
				pushclient.WithNavigator(pushclient.NavigatorFunc(func() {
					select {
					case fatal <- errors.New("session revoked, sign in again"):
					default:
					}
				})),
			)
			defer engine.Close()

			out := json.NewEncoder(os.Stdout)
			engine.OnAny(func(f protocol.Frame) { _ = out.Encode(f) })
			engine.OnState(func(s pushclient.State) { logger.Info("PUSH_STATE", "state", s.String()) })
			engine.OnError(func(err error) {
				logger.Error("PUSH_ERROR", "err", err)
				if errors.Is(err, pushclient.ErrReconnectExhausted) || errors.Is(err, pushclient.ErrUnauthorized) {
					select {
					case fatal <- err:
					default:
					}
				}
			})

			unbind := pushclient.BindIdentity(engine, ids)
			defer unbind()
			ids.Set(pushclient.Identity{Token: c.String("token")})

			g.Go(func() error {
				select {
				case err := <-fatal:
					return err
				case <-ctx.Done():
					return nil
				}
			})
			g.Go(func() error {
				<-ctx.Done()
				engine.Disconnect()
				return nil
			})
			return g.Wait()
		},
	}
}
