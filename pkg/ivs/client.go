// Package ivs talks to AWS Interactive Video Service: one IVS channel per
// live stream, created lazily and reused under the account channel quota.
package ivs

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ivs"
	ivstypes "github.com/aws/aws-sdk-go-v2/service/ivs/types"
	"go.uber.org/zap"

	"github.com/gshop/live-backend/internal/models"
)

// ErrQuotaExceeded is returned when the IVS account hit its channel quota.
// Callers fall back to channel reuse on this signal.
var ErrQuotaExceeded = errors.New("channel quota exceeded")

// ErrChannelNotFound is returned when the provider no longer knows the channel.
var ErrChannelNotFound = errors.New("channel not found")

// Config holds AWS IVS credentials and region.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Client is the AWS IVS broadcast provider.
type Client struct {
	ivs    *ivs.Client
	logger *zap.Logger
}

// New creates an IVS client and verifies credentials are present.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	logger.Info("IVS client initialized", zap.String("region", cfg.Region))
	return &Client{ivs: ivs.NewFromConfig(awsCfg), logger: logger}, nil
}

// Create provisions a new IVS channel plus stream key.
func (c *Client) Create(ctx context.Context, name string) (*models.Channel, error) {
	out, err := c.ivs.CreateChannel(ctx, &ivs.CreateChannelInput{
		Name:        &name,
		LatencyMode: ivstypes.ChannelLatencyModeLowLatency,
		Type:        ivstypes.ChannelTypeStandardChannelType,
	})
	if err != nil {
		var quota *ivstypes.ServiceQuotaExceededException
		if errors.As(err, &quota) {
			return nil, fmt.Errorf("create channel %q: %w", name, ErrQuotaExceeded)
		}
		return nil, fmt.Errorf("create channel %q: %w", name, err)
	}
	ch := channelFrom(out.Channel)
	if out.StreamKey != nil && out.StreamKey.Value != nil {
		ch.StreamKey = *out.StreamKey.Value
	}
	c.logger.Info("IVS channel created", zap.String("channel_id", ch.ID))
	return ch, nil
}

// Get fetches channel details by provider id (ARN).
func (c *Client) Get(ctx context.Context, channelID string) (*models.Channel, error) {
	out, err := c.ivs.GetChannel(ctx, &ivs.GetChannelInput{Arn: &channelID})
	if err != nil {
		var nf *ivstypes.ResourceNotFoundException
		if errors.As(err, &nf) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return channelFrom(out.Channel), nil
}

// Delete removes the channel and its stream keys.
func (c *Client) Delete(ctx context.Context, channelID string) error {
	if _, err := c.ivs.DeleteChannel(ctx, &ivs.DeleteChannelInput{Arn: &channelID}); err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	c.logger.Info("IVS channel deleted", zap.String("channel_id", channelID))
	return nil
}

// GetKey retrieves the stream key value for a channel, or ErrChannelNotFound
// when none is retrievable.
func (c *Client) GetKey(ctx context.Context, channelID string) (string, error) {
	list, err := c.ivs.ListStreamKeys(ctx, &ivs.ListStreamKeysInput{ChannelArn: &channelID})
	if err != nil {
		return "", fmt.Errorf("list stream keys: %w", err)
	}
	if len(list.StreamKeys) == 0 || list.StreamKeys[0].Arn == nil {
		return "", ErrChannelNotFound
	}
	key, err := c.ivs.GetStreamKey(ctx, &ivs.GetStreamKeyInput{Arn: list.StreamKeys[0].Arn})
	if err != nil {
		return "", fmt.Errorf("get stream key: %w", err)
	}
	if key.StreamKey == nil || key.StreamKey.Value == nil {
		return "", ErrChannelNotFound
	}
	return *key.StreamKey.Value, nil
}

// List returns the provider's channel inventory (ids only; credentials are
// fetched per channel with Get/GetKey).
func (c *Client) List(ctx context.Context) ([]string, error) {
	var ids []string
	var next *string
	for {
		out, err := c.ivs.ListChannels(ctx, &ivs.ListChannelsInput{NextToken: next})
		if err != nil {
			return nil, fmt.Errorf("list channels: %w", err)
		}
		for _, ch := range out.Channels {
			if ch.Arn != nil {
				ids = append(ids, *ch.Arn)
			}
		}
		if out.NextToken == nil {
			break
		}
		next = out.NextToken
	}
	return ids, nil
}

func channelFrom(ch *ivstypes.Channel) *models.Channel {
	out := &models.Channel{}
	if ch == nil {
		return out
	}
	if ch.Arn != nil {
		out.ID = *ch.Arn
	}
	if ch.IngestEndpoint != nil {
		out.IngestURL = "rtmps://" + *ch.IngestEndpoint + ":443/app/"
	}
	if ch.PlaybackUrl != nil {
		out.PlaybackURL = *ch.PlaybackUrl
	}
	return out
}
