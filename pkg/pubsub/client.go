// Package pubsub wraps the Pub/Sub v2 client used by the outbox publisher.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/lmdrive/drive-backend/pkg/config"
	"github.com/lmdrive/drive-backend/pkg/logger"
)

// ErrTopicMissing is returned when a configured topic has not been
// provisioned. Topics are created by infrastructure, never by this process.
var ErrTopicMissing = errors.New("pubsub topic does not exist")

type Client struct {
	ps      *pubsub.Client
	project string
	topics  []string
}

// NewClient connects to project and fails unless every configured topic exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errors.New("pubsub: gcp project id is required")
	}
	topics := configuredTopics(cfg)
	if len(topics) == 0 {
		return nil, errors.New("pubsub: no topics configured")
	}

	ps, err := pubsub.NewClient(ctx, project, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: connect: %w", err)
	}
	c := &Client{ps: ps, project: project, topics: topics}
	if err := c.verifyTopics(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topics", topics), "pubsub client ready")
	}
	return c, nil
}

func clientOptions(cfg config.PubSubConfig) []option.ClientOption {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil
	}
	return []option.ClientOption{
		option.WithEndpoint(endpoint),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}

// configuredTopics returns the trimmed, distinct, non-empty topic ids.
func configuredTopics(cfg config.PubSubConfig) []string {
	var out []string
	for _, t := range []string{cfg.OrdersTopic, cfg.PaymentsTopic, cfg.StockTopic} {
		if t = strings.TrimSpace(t); t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func (c *Client) verifyTopics(ctx context.Context) error {
	for _, topic := range c.topics {
		_, err := c.ps.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.topicPath(topic)})
		switch {
		case status.Code(err) == codes.NotFound:
			return fmt.Errorf("%w: %s", ErrTopicMissing, topic)
		case err != nil:
			return fmt.Errorf("pubsub: get topic %s: %w", topic, err)
		}
	}
	return nil
}

// Publisher returns an ordered publisher for topic, or nil when the client
// is not connected. The caller stops it.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.ps == nil || strings.TrimSpace(topic) == "" {
		return nil
	}
	p := c.ps.Publisher(c.topicPath(topic))
	p.EnableMessageOrdering = true
	return p
}

// Ping re-checks that every configured topic still exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.ps == nil {
		return errors.New("pubsub: client is not connected")
	}
	return c.verifyTopics(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.ps == nil {
		return nil
	}
	return c.ps.Close()
}

// topicPath accepts either a bare topic id or a full resource name.
func (c *Client) topicPath(topic string) string {
	topic = strings.TrimSpace(topic)
	if strings.HasPrefix(topic, "projects/") {
		return topic
	}
	return "projects/" + c.project + "/topics/" + topic
}
