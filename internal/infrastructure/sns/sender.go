package sns

import (
	"context"
	"errors"
	"fmt"

	"github.com/741g/vperfetto/internal/config"
	"github.com/741g/vperfetto/internal/domain"
	"github.com/741g/vperfetto/internal/infrastructure/awscfg"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Publisher is the part of the SNS client the poster uses.
type Publisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// TopicPoster publishes the foreground notification to an SNS topic.
type TopicPoster struct {
	client   Publisher
	topicARN string
}

func NewTopicPoster(cfg *config.Config) (*TopicPoster, error) {
	if cfg.Notify.SNSTopicARN == "" {
		return nil, errors.New("sns: SNS_TOPIC_ARN not set")
	}
	awsCfg, err := awscfg.Load(context.Background(), cfg, cfg.Notify.SNSRegion)
	if err != nil {
		return nil, err
	}
	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		o.BaseEndpoint = awscfg.Endpoint(cfg)
	})
	return NewTopicPosterWithClient(client, cfg.Notify.SNSTopicARN), nil
}

func NewTopicPosterWithClient(client Publisher, topicARN string) *TopicPoster {
	return &TopicPoster{client: client, topicARN: topicARN}
}

func (p *TopicPoster) Name() string { return "sns" }

func (p *TopicPoster) Post(ctx context.Context, ch domain.Channel, n domain.Notification) error {
	_, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(n.Title),
		Message:  aws.String(n.Text),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"channel": {DataType: aws.String("String"), StringValue: aws.String(ch.ID)},
			"ticker":  {DataType: aws.String("String"), StringValue: aws.String(n.Ticker)},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}
