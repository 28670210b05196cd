package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/urfave/cli/v2"
	"github.com/webitel/roster-push-service/config"
	"github.com/webitel/roster-push-service/infra/logging"
	infrapubsub "github.com/webitel/roster-push-service/infra/pubsub"
	pubsubadapter "github.com/webitel/roster-push-service/internal/adapter/pubsub"
	"github.com/webitel/roster-push-service/internal/domain/event"
	"github.com/webitel/roster-push-service/internal/service/dto"
	"github.com/webitel/roster-push-service/pkg/protocol"
)

func emitCmd() *cli.Command {
	return &cli.Command{
		Name:  "emit",
		Usage: "Publish one event to the ingestion exchange",
		Flags: []cli.Flag{
			configFileFlag(),
			&cli.StringFlag{Name: "kind", Value: protocol.KindSystemAnnouncement.String(), Usage: "Event kind"},
			&cli.StringFlag{Name: "priority", Value: protocol.PriorityNormal.String(), Usage: "low, normal, high or critical"},
			&cli.StringSliceFlag{Name: "session", Usage: "Target session id (repeatable)"},
			&cli.StringFlag{Name: "user", Usage: "Target user id"},
			&cli.StringFlag{Name: "faculty", Usage: "Target faculty id"},
			&cli.StringSliceFlag{Name: "permission", Usage: "Target permission (repeatable)"},
			&cli.StringFlag{Name: "payload", Usage: "JSON payload"},
			&cli.DurationFlag{Name: "ttl", Usage: "Drop the event if not delivered within this window"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config_file"), c.Args().Slice())
			if err != nil {
				return err
			}

			req, err := buildDispatchRequest(c)
			if err != nil {
				return err
			}

			lv := ProvideLogLevel(cfg)
			logger := logging.New(os.Stderr, cfg.Log.Format, lv)

			provider := infrapubsub.NewAMQPProvider(cfg.AMQP.URL, watermill.NewSlogLogger(logger))
			pub, err := pubsubadapter.NewPublisherProvider(provider).Build(cfg.AMQP.Exchange)
			if err != nil {
				return fmt.Errorf("build publisher: %w", err)
			}
			defer pub.Close()

			if err := pubsubadapter.NewEventDispatcher(pub, logger).Publish(c.Context, req); err != nil {
				return err
			}
			logger.Info("EVENT_EMITTED", "id", req.ID, "kind", req.Kind, "routing_key", event.RoutingKey(req.Kind))
			return nil
		},
	}
}

func buildDispatchRequest(c *cli.Context) (*dto.DispatchRequest, error) {
	kind, err := protocol.ParseKind(c.String("kind"))
	if err != nil {
		return nil, err
	}
	priority, err := protocol.ParsePriority(c.String("priority"))
	if err != nil {
		return nil, err
	}

	req := &dto.DispatchRequest{
		Kind:     kind,
		Priority: priority,
		Target: event.Target{
			SessionIDs:  c.StringSlice("session"),
			UserID:      c.String("user"),
			FacultyID:   c.String("faculty"),
			Permissions: c.StringSlice("permission"),
		},
		TTLSeconds: int(c.Duration("ttl") / time.Second),
	}
	if raw := c.String("payload"); raw != "" {
		req.Payload = json.RawMessage(raw)
	}
	return req, req.Validate()
}
