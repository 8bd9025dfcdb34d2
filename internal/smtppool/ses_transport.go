package smtppool

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESDialOptions configures an AWS SES v2 transport.
type SESDialOptions struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// sesTransport is stateless from the pool's point of view: SES manages
// its own connection reuse internally, so there is no connection to
// reap, but it still satisfies Transport so the pool is provider-agnostic.
type sesTransport struct {
	client       *sesv2.Client
	messagesSent int
}

// DialSES builds an SES-backed transport.
func DialSES(ctx context.Context, opts SESDialOptions) (Transport, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID, opts.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &sesTransport{client: sesv2.NewFromConfig(awsCfg)}, nil
}

func (t *sesTransport) Send(ctx context.Context, msg Message) (string, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	result, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return "", err
	}
	t.messagesSent++
	return aws.ToString(result.MessageId), nil
}

func (t *sesTransport) Healthy() bool      { return true }
func (t *sesTransport) MessagesSent() int  { return t.messagesSent }
func (t *sesTransport) Close() error       { return nil }
